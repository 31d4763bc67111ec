package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ERC20 is a custody.Token backed by an on-chain ERC-20 contract. Writes
// are signed by the transactor's custodian key.
type ERC20 struct {
	address common.Address
	tx      *Transactor
}

var _ custody.Token = (*ERC20)(nil)

func NewERC20(address common.Address, tx *Transactor) *ERC20 {
	return &ERC20{address: address, tx: tx}
}

func (e *ERC20) Address() common.Address { return e.address }

func (e *ERC20) TransferFrom(ctx context.Context, owner, recipient common.Address, amount *uint256.Int) error {
	return e.send(ctx, "transferFrom", owner, recipient, amount.ToBig())
}

func (e *ERC20) Transfer(ctx context.Context, recipient common.Address, amount *uint256.Int) error {
	return e.send(ctx, "transfer", recipient, amount.ToBig())
}

func (e *ERC20) Approve(ctx context.Context, spender common.Address, amount *uint256.Int) error {
	return e.send(ctx, "approve", spender, amount.ToBig())
}

func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return e.callAmount(ctx, "balanceOf", owner)
}

func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return e.callAmount(ctx, "allowance", owner, spender)
}

func (e *ERC20) send(ctx context.Context, method string, args ...any) error {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	if _, err := e.tx.Send(ctx, e.address, data); err != nil {
		return fmt.Errorf("%s on %s: %w", method, e.address.Hex(), err)
	}
	return nil
}

func (e *ERC20) callAmount(ctx context.Context, method string, args ...any) (*uint256.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := e.tx.Call(ctx, e.address, data)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, e.address.Hex(), err)
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: unexpected output", method)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return toUint256(raw)
}

// Registry resolves asset addresses to ERC20 tokens sharing one transactor.
type Registry struct {
	tx *Transactor

	mu     sync.Mutex
	tokens map[common.Address]*ERC20
}

var _ custody.Registry = (*Registry)(nil)

func NewRegistry(tx *Transactor) *Registry {
	return &Registry{tx: tx, tokens: make(map[common.Address]*ERC20)}
}

func (r *Registry) Token(asset common.Address) (custody.Token, error) {
	if asset == (common.Address{}) {
		return nil, custody.ErrUnknownAsset
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok, ok := r.tokens[asset]; ok {
		return tok, nil
	}
	tok := NewERC20(asset, r.tx)
	r.tokens[asset] = tok
	return tok, nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("value %s does not fit uint256", v.String())
	}
	return out, nil
}
