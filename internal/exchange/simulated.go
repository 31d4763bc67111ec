package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const bpsDenominator = 10_000

type pair struct {
	from, to common.Address
}

type rate struct {
	num, den *uint256.Int
}

// Simulated is a constant-rate exchange over a custody.Book. It holds its
// reserves at its own address in the book, pulls input using the allowance
// the trader granted it and pays output out of reserves. A haircut applied
// only at execution time simulates price movement between quote and swap.
type Simulated struct {
	mu      sync.RWMutex
	address common.Address
	base    common.Address
	trader  common.Address
	book    *custody.Book
	rates   map[pair]rate
	haircut uint64
	now     func() time.Time
}

// NewSimulated creates an exchange living at address that swaps on behalf of
// trader.
func NewSimulated(book *custody.Book, address, base, trader common.Address) *Simulated {
	return &Simulated{
		address: address,
		base:    base,
		trader:  trader,
		book:    book,
		rates:   make(map[pair]rate),
		now:     time.Now,
	}
}

// Address is where the exchange holds reserves; traders approve it.
func (s *Simulated) Address() common.Address { return s.address }

// SetRate prices one unit of from at num/den units of to. The reverse rate
// is set as well.
func (s *Simulated) SetRate(from, to common.Address, num, den uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pair{from, to}] = rate{num: uint256.NewInt(num), den: uint256.NewInt(den)}
	s.rates[pair{to, from}] = rate{num: uint256.NewInt(den), den: uint256.NewInt(num)}
}

// SetHaircut reduces executed output by bps relative to the quote.
func (s *Simulated) SetHaircut(bps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bps > bpsDenominator {
		bps = bpsDenominator
	}
	s.haircut = bps
}

// SetClock overrides the time source used for deadline checks.
func (s *Simulated) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Simulated) BaseAsset(context.Context) (common.Address, error) {
	return s.base, nil
}

func (s *Simulated) Quote(_ context.Context, path []common.Address, amountIn *uint256.Int) ([]*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amountsOut(path, amountIn)
}

func (s *Simulated) Execute(_ context.Context, amountIn, amountOutMin *uint256.Int, path []common.Address, recipient common.Address, deadline time.Time) ([]*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.now().After(deadline) {
		return nil, ErrExpired
	}
	amounts, err := s.amountsOut(path, amountIn)
	if err != nil {
		return nil, err
	}
	last := len(amounts) - 1
	if s.haircut > 0 {
		amounts[last] = new(uint256.Int).Div(
			new(uint256.Int).Mul(amounts[last], uint256.NewInt(bpsDenominator-s.haircut)),
			uint256.NewInt(bpsDenominator),
		)
	}
	if amounts[last].Lt(amountOutMin) {
		return nil, ErrInsufficientOutput
	}

	out := path[len(path)-1]
	if s.book.BalanceOf(out, s.address).Lt(amounts[last]) {
		return nil, ErrNoLiquidity
	}
	if err := s.book.SpendFrom(path[0], s.address, s.trader, s.address, amountIn); err != nil {
		return nil, fmt.Errorf("pull input: %w", err)
	}
	if err := s.book.Move(out, s.address, recipient, amounts[last]); err != nil {
		return nil, fmt.Errorf("pay output: %w", err)
	}
	return amounts, nil
}

// amountsOut must be called with s.mu held.
func (s *Simulated) amountsOut(path []common.Address, amountIn *uint256.Int) ([]*uint256.Int, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	amounts := make([]*uint256.Int, len(path))
	amounts[0] = new(uint256.Int).Set(amountIn)
	for i := 1; i < len(path); i++ {
		r, ok := s.rates[pair{path[i-1], path[i]}]
		if !ok {
			return nil, fmt.Errorf("%w: %s -> %s", ErrNoLiquidity, path[i-1].Hex(), path[i].Hex())
		}
		next, overflow := new(uint256.Int).MulDivOverflow(amounts[i-1], r.num, r.den)
		if overflow {
			return nil, fmt.Errorf("%w: quote overflow", ErrNoLiquidity)
		}
		amounts[i] = next
	}
	return amounts, nil
}
