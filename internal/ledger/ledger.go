package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance occurs when a debit exceeds the depositor's
	// recorded balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidPosting indicates a posting without a depositor or with a zero amount.
	ErrInvalidPosting = errors.New("invalid posting")

	// ErrOverflow indicates a credit would overflow the 256-bit running total.
	ErrOverflow = errors.New("ledger total overflow")
)

const (
	// KindDeposit marks a journal entry produced by a credit.
	KindDeposit = "deposit"
	// KindWithdrawal marks a journal entry produced by a debit.
	KindWithdrawal = "withdrawal"
)

// State is the global view of the ledger: the running total of all balances
// and the number of completed deposits and withdrawals.
type State struct {
	TotalDeposits   *uint256.Int
	DepositCount    uint64
	WithdrawalCount uint64
}

// Posting describes a balance change in the unit of account. Asset and
// AmountIn record what the depositor actually handed over (or received) so
// the journal can explain conversions.
type Posting struct {
	Depositor common.Address
	Amount    *uint256.Int
	Asset     common.Address
	AmountIn  *uint256.Int
}

// Entry is a journal line written for every completed credit or debit.
type Entry struct {
	ID        string
	Kind      string
	Depositor common.Address
	Amount    *uint256.Int
	Asset     common.Address
	AmountIn  *uint256.Int
	Balance   *uint256.Int
	Total     *uint256.Int
	CreatedAt time.Time
}

// Interaction is an external side effect that must succeed for a debit to
// stand. It runs after the debit is applied; returning an error reverts it.
type Interaction func(ctx context.Context) error

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// A Ledger is the only component allowed to mutate balances and totals.
type Ledger interface {
	Balance(ctx context.Context, depositor common.Address) (*uint256.Int, error)
	State(ctx context.Context) (State, error)
	Credit(ctx context.Context, p Posting) (Entry, error)
	Debit(ctx context.Context, p Posting, interaction Interaction) (Entry, error)
	Entries(ctx context.Context, depositor common.Address, limit int) ([]Entry, error)
}

func (p Posting) validate() error {
	if p.Depositor == (common.Address{}) {
		return errors.Join(ErrInvalidPosting, errors.New("depositor required"))
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return errors.Join(ErrInvalidPosting, errors.New("amount must be positive"))
	}
	return nil
}

func (p Posting) amountIn() *uint256.Int {
	if p.AmountIn == nil {
		return new(uint256.Int).Set(p.Amount)
	}
	return new(uint256.Int).Set(p.AmountIn)
}

func (s State) clone() State {
	out := s
	if s.TotalDeposits == nil {
		out.TotalDeposits = new(uint256.Int)
	} else {
		out.TotalDeposits = new(uint256.Int).Set(s.TotalDeposits)
	}
	return out
}

func (e Entry) clone() Entry {
	out := e
	out.Amount = cloneAmount(e.Amount)
	out.AmountIn = cloneAmount(e.AmountIn)
	out.Balance = cloneAmount(e.Balance)
	out.Total = cloneAmount(e.Total)
	return out
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
