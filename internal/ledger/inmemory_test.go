package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func sumBalances(l *inMemoryLedger) *uint256.Int {
	sum := new(uint256.Int)
	for _, b := range l.balances {
		sum.Add(sum, b)
	}
	return sum
}

func TestInMemoryLedger_CreditUpdatesBalanceAndTotal(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	entry, err := l.Credit(ctx, Posting{Depositor: alice, Amount: uint256.NewInt(1_500), Asset: usdc})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if entry.Kind != KindDeposit || entry.Balance.Uint64() != 1_500 || entry.Total.Uint64() != 1_500 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.AmountIn.Uint64() != 1_500 {
		t.Fatalf("expected amount in to default to amount, got %s", entry.AmountIn.Dec())
	}

	if _, err := l.Credit(ctx, Posting{Depositor: bob, Amount: uint256.NewInt(500), Asset: usdc}); err != nil {
		t.Fatalf("credit bob failed: %v", err)
	}

	state, err := l.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.TotalDeposits.Uint64() != 2_000 || state.DepositCount != 2 || state.WithdrawalCount != 0 {
		t.Fatalf("unexpected state: total=%s deposits=%d withdrawals=%d", state.TotalDeposits.Dec(), state.DepositCount, state.WithdrawalCount)
	}
	if !sumBalances(l.(*inMemoryLedger)).Eq(state.TotalDeposits) {
		t.Fatal("ledger not balanced")
	}
}

func TestInMemoryLedger_RejectsInvalidPosting(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if _, err := l.Credit(ctx, Posting{Depositor: alice, Amount: new(uint256.Int)}); !errors.Is(err, ErrInvalidPosting) {
		t.Fatalf("expected invalid posting for zero amount, got %v", err)
	}
	if _, err := l.Credit(ctx, Posting{Amount: uint256.NewInt(1)}); !errors.Is(err, ErrInvalidPosting) {
		t.Fatalf("expected invalid posting for zero depositor, got %v", err)
	}
}

func TestInMemoryLedger_CreditOverflow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	max := new(uint256.Int).SetAllOne()

	if _, err := l.Credit(ctx, Posting{Depositor: alice, Amount: max}); err != nil {
		t.Fatalf("credit max: %v", err)
	}
	if _, err := l.Credit(ctx, Posting{Depositor: bob, Amount: uint256.NewInt(1)}); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestInMemoryLedger_DebitAppliesEffectsBeforeInteraction(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, alice, 15_000)

	var seen *uint256.Int
	entry, err := l.Debit(ctx, Posting{Depositor: alice, Amount: uint256.NewInt(10_000)}, func(ctx context.Context) error {
		seen, _ = l.Balance(ctx, alice)
		return nil
	})
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if seen == nil || seen.Uint64() != 5_000 {
		t.Fatalf("interaction should observe the decremented balance, got %v", seen)
	}
	if entry.Kind != KindWithdrawal || entry.Balance.Uint64() != 5_000 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	state, _ := l.State(ctx)
	if state.TotalDeposits.Uint64() != 5_000 || state.WithdrawalCount != 1 {
		t.Fatalf("unexpected state after debit: total=%s withdrawals=%d", state.TotalDeposits.Dec(), state.WithdrawalCount)
	}
}

func TestInMemoryLedger_DebitRevertsOnInteractionFailure(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, alice, 5_000)
	boom := errors.New("transfer reverted")

	if _, err := l.Debit(ctx, Posting{Depositor: alice, Amount: uint256.NewInt(1_000)}, func(context.Context) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected interaction error, got %v", err)
	}

	bal, _ := l.Balance(ctx, alice)
	if bal.Uint64() != 5_000 {
		t.Fatalf("expected balance restored to 5000, got %s", bal.Dec())
	}
	state, _ := l.State(ctx)
	if state.TotalDeposits.Uint64() != 5_000 || state.WithdrawalCount != 0 {
		t.Fatalf("expected state restored, got total=%s withdrawals=%d", state.TotalDeposits.Dec(), state.WithdrawalCount)
	}
	entries, _ := l.Entries(ctx, alice, 0)
	if len(entries) != 0 {
		t.Fatalf("expected no journal entry for reverted debit, got %d", len(entries))
	}
}

func TestInMemoryLedger_DebitInsufficientBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, alice, 500)

	called := false
	_, err := l.Debit(ctx, Posting{Depositor: alice, Amount: uint256.NewInt(501)}, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if called {
		t.Fatal("interaction must not run when the debit is rejected")
	}
}

func TestInMemoryLedger_ConcurrentCredits(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			depositor := alice
			if i%2 == 1 {
				depositor = bob
			}
			if _, err := l.Credit(ctx, Posting{Depositor: depositor, Amount: uint256.NewInt(250)}); err != nil {
				t.Errorf("credit %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	state, _ := l.State(ctx)
	if state.TotalDeposits.Uint64() != workers*250 || state.DepositCount != workers {
		t.Fatalf("unexpected state after concurrency: total=%s deposits=%d", state.TotalDeposits.Dec(), state.DepositCount)
	}
	if !sumBalances(l.(*inMemoryLedger)).Eq(state.TotalDeposits) {
		t.Fatal("ledger not balanced after concurrency")
	}
}

func TestInMemoryLedger_EntriesNewestFirst(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	for _, amt := range []uint64{100, 200, 300} {
		if _, err := l.Credit(ctx, Posting{Depositor: alice, Amount: uint256.NewInt(amt)}); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if _, err := l.Credit(ctx, Posting{Depositor: bob, Amount: uint256.NewInt(50)}); err != nil {
		t.Fatalf("credit bob: %v", err)
	}

	entries, err := l.Entries(ctx, alice, 2)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Amount.Uint64() != 300 || entries[1].Amount.Uint64() != 200 {
		t.Fatalf("expected newest first, got %s then %s", entries[0].Amount.Dec(), entries[1].Amount.Dec())
	}

	all, _ := l.Entries(ctx, common.Address{}, 0)
	if len(all) != 4 {
		t.Fatalf("expected 4 entries overall, got %d", len(all))
	}
}
