package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/congo-pay/capvault/internal/exchange"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Router is an exchange.Exchange backed by a UniswapV2-compatible router.
type Router struct {
	address common.Address
	tx      *Transactor
}

var _ exchange.Exchange = (*Router)(nil)

func NewRouter(address common.Address, tx *Transactor) *Router {
	return &Router{address: address, tx: tx}
}

func (r *Router) Address() common.Address { return r.address }

// BaseAsset returns the router's wrapped native asset.
func (r *Router) BaseAsset(ctx context.Context) (common.Address, error) {
	data, err := routerABI.Pack("WETH")
	if err != nil {
		return common.Address{}, err
	}
	out, err := r.tx.Call(ctx, r.address, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("WETH: %w", err)
	}
	values, err := routerABI.Unpack("WETH", out)
	if err != nil || len(values) != 1 {
		return common.Address{}, fmt.Errorf("unpack WETH: %v", err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack WETH: unexpected type %T", values[0])
	}
	return addr, nil
}

func (r *Router) Quote(ctx context.Context, path []common.Address, amountIn *uint256.Int) ([]*uint256.Int, error) {
	if err := exchange.ValidatePath(path); err != nil {
		return nil, err
	}
	data, err := routerABI.Pack("getAmountsOut", amountIn.ToBig(), path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	out, err := r.tx.Call(ctx, r.address, data)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", exchange.ErrNoLiquidity, err)
		}
		return nil, fmt.Errorf("getAmountsOut: %w", err)
	}
	values, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("unpack getAmountsOut: %v", err)
	}
	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack getAmountsOut: unexpected type %T", values[0])
	}
	amounts := make([]*uint256.Int, len(raw))
	for i, v := range raw {
		if amounts[i], err = toUint256(v); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// Execute swaps along path and reports the amounts actually moved. The
// realized output is read from the receipt's Transfer logs of the final
// asset to recipient, not from the router's return value.
func (r *Router) Execute(ctx context.Context, amountIn, amountOutMin *uint256.Int, path []common.Address, recipient common.Address, deadline time.Time) ([]*uint256.Int, error) {
	if err := exchange.ValidatePath(path); err != nil {
		return nil, err
	}
	data, err := routerABI.Pack("swapExactTokensForTokens",
		amountIn.ToBig(), amountOutMin.ToBig(), path, recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("pack swapExactTokensForTokens: %w", err)
	}
	receipt, err := r.tx.Send(ctx, r.address, data)
	if err != nil {
		return nil, fmt.Errorf("swapExactTokensForTokens: %w", err)
	}

	amounts := make([]*uint256.Int, len(path))
	amounts[0] = new(uint256.Int).Set(amountIn)
	for i := 1; i < len(path)-1; i++ {
		amounts[i] = firstTransfer(receipt, path[i])
	}
	amounts[len(path)-1] = transferredTo(receipt, path[len(path)-1], recipient)
	return amounts, nil
}

func transferredTo(receipt *gethtypes.Receipt, asset, recipient common.Address) *uint256.Int {
	total := new(uint256.Int)
	for _, log := range receipt.Logs {
		if !isTransfer(log, asset) {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != recipient {
			continue
		}
		total.Add(total, new(uint256.Int).SetBytes(log.Data))
	}
	return total
}

func firstTransfer(receipt *gethtypes.Receipt, asset common.Address) *uint256.Int {
	for _, log := range receipt.Logs {
		if isTransfer(log, asset) {
			return new(uint256.Int).SetBytes(log.Data)
		}
	}
	return new(uint256.Int)
}

func isTransfer(log *gethtypes.Log, asset common.Address) bool {
	return log != nil && log.Address == asset && len(log.Topics) >= 3 && log.Topics[0] == transferEventSignature
}
