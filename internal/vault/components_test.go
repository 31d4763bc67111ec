package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/ledger"
)

func TestToleranceFloor(t *testing.T) {
	cases := []struct {
		bps      uint64
		estimate uint64
		want     uint64
	}{
		{50, 100_000_000, 99_500_000},
		{50, 100, 99},
		{0, 12_345, 12_345},
		{10_000, 12_345, 0},
		{30, 1, 0},
	}
	for _, tc := range cases {
		got := NewTolerance(tc.bps).Floor(uint256.NewInt(tc.estimate))
		if got.Uint64() != tc.want {
			t.Fatalf("floor(%d, %d bps) = %s, want %d", tc.estimate, tc.bps, got.Dec(), tc.want)
		}
	}
}

func TestToleranceFloorFullWidth(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := NewTolerance(1).Floor(max)
	if !got.Lt(max) || got.IsZero() {
		t.Fatalf("expected floor just under max, got %s", got.Dec())
	}
}

func TestEstimatorPath(t *testing.T) {
	e := NewEstimator(nil, weth, usdc)
	if p := e.Path(weth); len(p) != 2 || p[0] != weth || p[1] != usdc {
		t.Fatalf("base asset should route directly, got %v", p)
	}
	if p := e.Path(dai); len(p) != 3 || p[1] != weth {
		t.Fatalf("foreign asset should route via base, got %v", p)
	}
}

func TestAdmissionBoundary(t *testing.T) {
	led := ledger.NewInMemory()
	ctx := context.Background()
	ledger.SeedBalance(led, alice, 999_500)
	a := NewAdmission(led, uint256.NewInt(1_000_000))

	if err := a.Admit(ctx, uint256.NewInt(500)); err != nil {
		t.Fatalf("exactly reaching capacity must be admitted: %v", err)
	}
	if err := a.Admit(ctx, uint256.NewInt(501)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	if err := a.Admit(ctx, new(uint256.Int).SetAllOne()); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected overflow to be rejected, got %v", err)
	}
	if got := a.Remaining(uint256.NewInt(999_500)); got.Uint64() != 500 {
		t.Fatalf("expected 500 remaining, got %s", got.Dec())
	}
}

func TestEnterMarksContext(t *testing.T) {
	ctx, err := enter(context.Background(), opWithdraw)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := enter(ctx, opDepositAsset); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected reentrant call, got %v", err)
	}
}

func TestReasonMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrCapacityExceeded, "capacity_exceeded"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrTransferFailed, "transfer_failed"},
		{errors.New("unexpected"), "internal"},
		{&ConversionError{Asset: common.Address{}, Cause: errors.New("reverted")}, "conversion_shortfall"},
		{&ConversionError{Asset: common.Address{}, Cause: custody.ErrOutcomeUnknown}, "outcome_unknown"},
	}
	for _, tc := range cases {
		if got := Reason(tc.err); got != tc.want {
			t.Fatalf("Reason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestStatusForOutcomeUnknown(t *testing.T) {
	err := fmt.Errorf("send 10 to 0xabc: %w", custody.ErrOutcomeUnknown)
	if got := StatusFor(err); got != http.StatusGatewayTimeout {
		t.Fatalf("StatusFor(%v) = %d, want %d", err, got, http.StatusGatewayTimeout)
	}
	if got := StatusFor(ErrTransferFailed); got != http.StatusBadGateway {
		t.Fatalf("StatusFor(transfer failed) = %d, want %d", got, http.StatusBadGateway)
	}
}
