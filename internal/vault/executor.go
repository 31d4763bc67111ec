package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/exchange"
)

// Conversion is the outcome of moving a deposit into custody as unit of
// account.
type Conversion struct {
	Asset    common.Address
	AmountIn *uint256.Int
	Credited *uint256.Int
	// Estimate, Floor and Path are nil for direct unit-of-account deposits.
	Estimate *uint256.Int
	Floor    *uint256.Int
	Path     []common.Address
}

// Converted reports whether the deposit went through the exchange.
func (c Conversion) Converted() bool { return c.Path != nil }

// Executor performs the irreversible part of a deposit: pulling the input
// into custody and swapping it. It never touches the ledger.
type Executor struct {
	estimator *Estimator
	admission *Admission
	tolerance Tolerance
	exchange  exchange.Exchange
	tokens    custody.Registry
	unit      common.Address
	custodian common.Address
	spender   common.Address
	deadline  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Convert admits, pulls and (for foreign assets) swaps a deposit, returning
// the unit-of-account amount to credit.
func (x *Executor) Convert(ctx context.Context, depositor, asset common.Address, amount *uint256.Int) (Conversion, error) {
	if asset == x.unit {
		return x.direct(ctx, depositor, amount)
	}

	quote, err := x.estimator.Estimate(ctx, asset, amount)
	if err != nil {
		return Conversion{}, err
	}
	if err := x.admission.Admit(ctx, quote.Estimate); err != nil {
		return Conversion{}, err
	}

	token, err := x.tokens.Token(asset)
	if err != nil {
		return Conversion{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	floor := x.tolerance.Floor(quote.Estimate)
	stranded := func(realized *uint256.Int, cause error) error {
		return &ConversionError{Asset: asset, AmountIn: new(uint256.Int).Set(amount), Floor: floor, Realized: realized, Cause: cause}
	}

	if err := token.TransferFrom(ctx, depositor, x.custodian, amount); err != nil {
		if errors.Is(err, custody.ErrOutcomeUnknown) {
			return Conversion{}, stranded(nil, fmt.Errorf("pull %s from %s: %w", asset.Hex(), depositor.Hex(), err))
		}
		return Conversion{}, fmt.Errorf("%w: pull %s from %s: %w", ErrTransferFailed, asset.Hex(), depositor.Hex(), err)
	}

	if err := x.ensureAllowance(ctx, token, amount); err != nil {
		return Conversion{}, stranded(nil, err)
	}

	amounts, err := x.exchange.Execute(ctx, amount, floor, quote.Path, x.custodian, x.now().Add(x.deadline))
	if err != nil {
		return Conversion{}, stranded(nil, err)
	}
	if len(amounts) < 2 {
		return Conversion{}, stranded(nil, fmt.Errorf("exchange returned %d amounts", len(amounts)))
	}
	realized := amounts[len(amounts)-1]
	if realized == nil || realized.Lt(floor) {
		return Conversion{}, stranded(realized, nil)
	}

	return Conversion{
		Asset:    asset,
		AmountIn: new(uint256.Int).Set(amount),
		Credited: new(uint256.Int).Set(realized),
		Estimate: quote.Estimate,
		Floor:    floor,
		Path:     quote.Path,
	}, nil
}

func (x *Executor) direct(ctx context.Context, depositor common.Address, amount *uint256.Int) (Conversion, error) {
	if err := x.admission.Admit(ctx, amount); err != nil {
		return Conversion{}, err
	}
	token, err := x.tokens.Token(x.unit)
	if err != nil {
		return Conversion{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := token.TransferFrom(ctx, depositor, x.custodian, amount); err != nil {
		if errors.Is(err, custody.ErrOutcomeUnknown) {
			return Conversion{}, &ConversionError{
				Asset:    x.unit,
				AmountIn: new(uint256.Int).Set(amount),
				Cause:    fmt.Errorf("pull %s from %s: %w", x.unit.Hex(), depositor.Hex(), err),
			}
		}
		return Conversion{}, fmt.Errorf("%w: pull %s from %s: %w", ErrTransferFailed, x.unit.Hex(), depositor.Hex(), err)
	}
	return Conversion{
		Asset:    x.unit,
		AmountIn: new(uint256.Int).Set(amount),
		Credited: new(uint256.Int).Set(amount),
	}, nil
}

// ensureAllowance grants the exchange the maximal allowance once, the first
// time the current one does not cover amount.
func (x *Executor) ensureAllowance(ctx context.Context, token custody.Token, amount *uint256.Int) error {
	allowance, err := token.Allowance(ctx, x.custodian, x.spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if !allowance.Lt(amount) {
		return nil
	}
	x.logger.Info("granting exchange allowance",
		slog.String("asset", token.Address().Hex()),
		slog.String("spender", x.spender.Hex()),
	)
	if err := token.Approve(ctx, x.spender, custody.MaxAllowance()); err != nil {
		return fmt.Errorf("approve exchange: %w", err)
	}
	return nil
}
