package vault

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/ledger"
)

// Admission gates deposits against the global capacity ceiling. It must run
// before any value is moved.
type Admission struct {
	ledger   ledger.Ledger
	capacity *uint256.Int
}

func NewAdmission(l ledger.Ledger, capacity *uint256.Int) *Admission {
	return &Admission{ledger: l, capacity: new(uint256.Int).Set(capacity)}
}

// Admit rejects candidate when total + candidate exceeds capacity.
func (a *Admission) Admit(ctx context.Context, candidate *uint256.Int) error {
	state, err := a.ledger.State(ctx)
	if err != nil {
		return fmt.Errorf("read ledger state: %w", err)
	}
	next, overflow := new(uint256.Int).AddOverflow(state.TotalDeposits, candidate)
	if overflow || next.Gt(a.capacity) {
		return fmt.Errorf("%w: total %s + %s > capacity %s",
			ErrCapacityExceeded, state.TotalDeposits.Dec(), candidate.Dec(), a.capacity.Dec())
	}
	return nil
}

// Remaining is the headroom left under capacity for the given total.
func (a *Admission) Remaining(total *uint256.Int) *uint256.Int {
	if total.Gt(a.capacity) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a.capacity, total)
}

func (a *Admission) Capacity() *uint256.Int {
	return new(uint256.Int).Set(a.capacity)
}
