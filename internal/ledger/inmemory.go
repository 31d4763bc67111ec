package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	state    State
	entries  []Entry
	now      func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger used in development
// and unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances: make(map[common.Address]*uint256.Int),
		state:    State{TotalDeposits: new(uint256.Int)},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) Balance(_ context.Context, depositor common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneAmount(l.balances[depositor]), nil
}

func (l *inMemoryLedger) State(_ context.Context) (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.clone(), nil
}

func (l *inMemoryLedger) Credit(_ context.Context, p Posting) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	total, overflow := new(uint256.Int).AddOverflow(l.state.TotalDeposits, p.Amount)
	if overflow {
		return Entry{}, ErrOverflow
	}
	balance, overflow := new(uint256.Int).AddOverflow(cloneAmount(l.balances[p.Depositor]), p.Amount)
	if overflow {
		return Entry{}, ErrOverflow
	}

	l.state.DepositCount++
	l.state.TotalDeposits = total
	l.balances[p.Depositor] = balance

	entry := l.journal(KindDeposit, p, balance, total)
	return entry.clone(), nil
}

// Debit applies the withdrawal effects, releases the lock, runs the
// interaction and compensates if the interaction fails. Readers that observe
// the ledger while the interaction is in flight see the decremented balance.
func (l *inMemoryLedger) Debit(ctx context.Context, p Posting, interaction Interaction) (Entry, error) {
	if err := p.validate(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	balance := cloneAmount(l.balances[p.Depositor])
	if balance.Lt(p.Amount) || l.state.TotalDeposits.Lt(p.Amount) {
		l.mu.Unlock()
		return Entry{}, ErrInsufficientBalance
	}
	balance.Sub(balance, p.Amount)
	total := new(uint256.Int).Sub(l.state.TotalDeposits, p.Amount)
	l.balances[p.Depositor] = balance
	l.state.TotalDeposits = total
	l.state.WithdrawalCount++
	l.mu.Unlock()

	if interaction != nil {
		if err := interaction(ctx); err != nil {
			l.revertDebit(p)
			return Entry{}, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.journal(KindWithdrawal, p, l.balances[p.Depositor], l.state.TotalDeposits)
	return entry.clone(), nil
}

func (l *inMemoryLedger) revertDebit(p Posting) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[p.Depositor] = new(uint256.Int).Add(cloneAmount(l.balances[p.Depositor]), p.Amount)
	l.state.TotalDeposits = new(uint256.Int).Add(l.state.TotalDeposits, p.Amount)
	l.state.WithdrawalCount--
}

func (l *inMemoryLedger) Entries(_ context.Context, depositor common.Address, limit int) ([]Entry, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if depositor != (common.Address{}) && e.Depositor != depositor {
			continue
		}
		out = append(out, e.clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// journal must be called with l.mu held for writing.
func (l *inMemoryLedger) journal(kind string, p Posting, balance, total *uint256.Int) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Depositor: p.Depositor,
		Amount:    new(uint256.Int).Set(p.Amount),
		Asset:     p.Asset,
		AmountIn:  p.amountIn(),
		Balance:   cloneAmount(balance),
		Total:     cloneAmount(total),
		CreatedAt: l.now(),
	}
	l.entries = append(l.entries, entry)
	return entry
}
