package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	asset, owner, spender common.Address
}

// Book is an in-memory multi-asset token ledger. It backs development mode
// and tests, and is shared with the simulated exchange so swaps move real
// (simulated) balances.
type Book struct {
	mu         sync.RWMutex
	custodian  common.Address
	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

// NewBook creates an empty book whose Transfer and Approve calls act on
// behalf of custodian.
func NewBook(custodian common.Address) *Book {
	return &Book{
		custodian:  custodian,
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// Custodian returns the account Transfer and Approve act for.
func (b *Book) Custodian() common.Address { return b.custodian }

// Mint credits owner with amount of asset out of thin air.
func (b *Book) Mint(asset, owner common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balance(asset, owner)
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("mint %s: balance overflow", asset.Hex())
	}
	bal.Set(sum)
	return nil
}

// SetAllowance sets the allowance owner granted spender on asset.
func (b *Book) SetAllowance(asset, owner, spender common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey{asset, owner, spender}] = new(uint256.Int).Set(amount)
}

// BalanceOf returns owner's holding of asset.
func (b *Book) BalanceOf(asset, owner common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if holders, ok := b.balances[asset]; ok {
		if v, ok := holders[owner]; ok {
			return new(uint256.Int).Set(v)
		}
	}
	return new(uint256.Int)
}

// Allowance returns what spender may still pull from owner.
func (b *Book) Allowance(asset, owner, spender common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.allowances[allowanceKey{asset, owner, spender}]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// Move transfers amount of asset between two accounts without consulting
// allowances.
func (b *Book) Move(asset, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(asset, from, to, amount)
}

// SpendFrom moves amount of asset from owner to recipient, consuming the
// allowance owner granted spender.
func (b *Book) SpendFrom(asset, spender, owner, recipient common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := allowanceKey{asset, owner, spender}
	allowance, ok := b.allowances[key]
	if !ok || allowance.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := b.move(asset, owner, recipient, amount); err != nil {
		return err
	}
	if !allowance.Eq(MaxAllowance()) {
		allowance.Sub(allowance, amount)
	}
	return nil
}

// Registry exposes the book as a custody.Registry. Every asset resolves.
func (b *Book) Registry() Registry {
	return bookRegistry{book: b}
}

// balance must be called with b.mu held for writing.
func (b *Book) balance(asset, owner common.Address) *uint256.Int {
	holders, ok := b.balances[asset]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		b.balances[asset] = holders
	}
	v, ok := holders[owner]
	if !ok {
		v = new(uint256.Int)
		holders[owner] = v
	}
	return v
}

func (b *Book) move(asset, from, to common.Address, amount *uint256.Int) error {
	src := b.balance(asset, from)
	if src.Lt(amount) {
		return ErrInsufficientFunds
	}
	dst := b.balance(asset, to)
	if _, overflow := new(uint256.Int).AddOverflow(dst, amount); overflow {
		return fmt.Errorf("transfer %s: balance overflow", asset.Hex())
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

type bookRegistry struct {
	book *Book
}

func (r bookRegistry) Token(asset common.Address) (Token, error) {
	if asset == (common.Address{}) {
		return nil, ErrUnknownAsset
	}
	return &bookToken{book: r.book, asset: asset}, nil
}

type bookToken struct {
	book  *Book
	asset common.Address
}

func (t *bookToken) Address() common.Address { return t.asset }

func (t *bookToken) TransferFrom(_ context.Context, owner, recipient common.Address, amount *uint256.Int) error {
	return t.book.SpendFrom(t.asset, t.book.custodian, owner, recipient, amount)
}

func (t *bookToken) Transfer(_ context.Context, recipient common.Address, amount *uint256.Int) error {
	return t.book.Move(t.asset, t.book.custodian, recipient, amount)
}

func (t *bookToken) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	return t.book.BalanceOf(t.asset, owner), nil
}

func (t *bookToken) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return t.book.Allowance(t.asset, owner, spender), nil
}

func (t *bookToken) Approve(_ context.Context, spender common.Address, amount *uint256.Int) error {
	t.book.SetAllowance(t.asset, t.book.custodian, spender, amount)
	return nil
}
