// Package vault implements a capped custodial vault: deposits in several
// assets are converted into one unit of account and tracked per depositor
// against a global capacity ceiling and a per-withdrawal ceiling.
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
	"github.com/congo-pay/capvault/internal/events"
	"github.com/congo-pay/capvault/internal/exchange"
	"github.com/congo-pay/capvault/internal/ledger"
	"github.com/congo-pay/capvault/internal/metrics"
)

const (
	opDepositNative = "deposit_native"
	opDepositAsset  = "deposit_asset"
	opWithdraw      = "withdraw"
)

// Deps are the collaborators a vault operates on.
type Deps struct {
	Ledger    ledger.Ledger
	Exchange  exchange.Exchange
	Tokens    custody.Registry
	Locker    Locker
	Publisher events.Publisher
	Metrics   *metrics.VaultMetrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Vault coordinates deposits and withdrawals. Every mutation runs under the
// locker; reads do not.
type Vault struct {
	params    Params
	ledger    ledger.Ledger
	tokens    custody.Registry
	estimator *Estimator
	tolerance Tolerance
	admission *Admission
	executor  *Executor
	locker    Locker
	publisher events.Publisher
	metrics   *metrics.VaultMetrics
	logger    *slog.Logger
}

// Receipt describes a completed deposit.
type Receipt struct {
	Entry      ledger.Entry
	Conversion Conversion
}

// Snapshot is the read-only view of global vault state.
type Snapshot struct {
	TotalDeposits     *uint256.Int
	DepositCount      uint64
	WithdrawalCount   uint64
	Capacity          *uint256.Int
	Remaining         *uint256.Int
	WithdrawalCeiling *uint256.Int
	ToleranceBps      uint64
	UnitOfAccount     common.Address
	BaseRoutingAsset  common.Address
	UnitDecimals      int32
}

// QuotePreview is an estimate plus the floor a deposit would be held to.
type QuotePreview struct {
	Quote
	Floor *uint256.Int
}

// New validates p and wires the vault components. A zero BaseRoutingAsset
// is resolved from the exchange.
func New(ctx context.Context, p Params, d Deps) (*Vault, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if d.Ledger == nil || d.Exchange == nil || d.Tokens == nil {
		return nil, fmt.Errorf("%w: ledger, exchange and token registry are required", ErrInvalidConfiguration)
	}
	p = p.clone()

	if p.BaseRoutingAsset == (common.Address{}) {
		base, err := d.Exchange.BaseAsset(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve base routing asset: %w", err)
		}
		if base == (common.Address{}) {
			return nil, fmt.Errorf("%w: exchange reported no base asset", ErrInvalidConfiguration)
		}
		p.BaseRoutingAsset = base
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Publisher == nil {
		d.Publisher = events.NewLoggerPublisher(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}

	estimator := NewEstimator(d.Exchange, p.BaseRoutingAsset, p.UnitOfAccount)
	tolerance := NewTolerance(p.ToleranceBps)
	admission := NewAdmission(d.Ledger, p.CapacityCeiling)

	return &Vault{
		params:    p,
		ledger:    d.Ledger,
		tokens:    d.Tokens,
		estimator: estimator,
		tolerance: tolerance,
		admission: admission,
		executor: &Executor{
			estimator: estimator,
			admission: admission,
			tolerance: tolerance,
			exchange:  d.Exchange,
			tokens:    d.Tokens,
			unit:      p.UnitOfAccount,
			custodian: p.Custodian,
			spender:   p.Exchange,
			deadline:  p.SwapDeadline,
			now:       d.Clock,
			logger:    d.Logger,
		},
		locker:    d.Locker,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}, nil
}

// Params returns a copy of the creation parameters.
func (v *Vault) Params() Params { return v.params.clone() }

// DepositNative deposits native value, held as the wrapped native asset
// which is also the base routing asset.
func (v *Vault) DepositNative(ctx context.Context, depositor common.Address, amount *uint256.Int) (Receipt, error) {
	return v.deposit(ctx, opDepositNative, depositor, v.params.BaseRoutingAsset, amount)
}

// DepositAsset deposits amount of asset, converting it to the unit of
// account unless it already is one.
func (v *Vault) DepositAsset(ctx context.Context, depositor, asset common.Address, amount *uint256.Int) (Receipt, error) {
	return v.deposit(ctx, opDepositAsset, depositor, asset, amount)
}

func (v *Vault) deposit(ctx context.Context, op string, depositor, asset common.Address, amount *uint256.Int) (receipt Receipt, err error) {
	start := time.Now()
	defer func() { v.observe(op, start, err) }()

	if depositor == (common.Address{}) {
		return Receipt{}, ErrInvalidDepositor
	}
	if amount == nil || amount.IsZero() || asset == (common.Address{}) {
		return Receipt{}, ErrInvalidAmount
	}

	ctx, err = enter(ctx, op)
	if err != nil {
		return Receipt{}, err
	}
	unlock, err := v.locker.Lock(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("acquire vault lock: %w", err)
	}
	defer unlock()

	conv, err := v.executor.Convert(ctx, depositor, asset, amount)
	if err != nil {
		var stranded *ConversionError
		if errors.As(err, &stranded) {
			v.reportStranded(ctx, depositor, stranded.Asset, stranded.AmountIn, err)
		}
		return Receipt{}, err
	}

	entry, err := v.ledger.Credit(ctx, ledger.Posting{
		Depositor: depositor,
		Amount:    conv.Credited,
		Asset:     asset,
		AmountIn:  conv.AmountIn,
	})
	if err != nil {
		v.reportStranded(ctx, depositor, asset, amount, err)
		return Receipt{}, fmt.Errorf("credit %s: %w", depositor.Hex(), err)
	}

	v.logger.Info("deposit credited",
		slog.String("operation", op),
		slog.String("depositor", depositor.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount_in", amount.Dec()),
		slog.String("credited", conv.Credited.Dec()),
		slog.String("total", entry.Total.Dec()),
	)
	v.metrics.SetTotalDeposits(entry.Total)

	event := events.New(events.KindDeposited, depositor.Hex())
	event.Asset = asset.Hex()
	event.AmountIn = amount.Dec()
	event.Amount = conv.Credited.Dec()
	v.publish(ctx, event)

	return Receipt{Entry: entry, Conversion: conv}, nil
}

// Withdraw debits amount from the depositor and transfers the unit of
// account out of custody. The debit is applied before the transfer and
// reverted if the transfer fails. When the transfer was submitted but never
// confirmed the debit stands and the error wraps ErrOutcomeUnknown.
func (v *Vault) Withdraw(ctx context.Context, depositor common.Address, amount *uint256.Int) (entry ledger.Entry, err error) {
	start := time.Now()
	defer func() { v.observe(opWithdraw, start, err) }()

	if depositor == (common.Address{}) {
		return ledger.Entry{}, ErrInvalidDepositor
	}
	if amount == nil || amount.IsZero() {
		return ledger.Entry{}, ErrInvalidAmount
	}

	ctx, err = enter(ctx, opWithdraw)
	if err != nil {
		return ledger.Entry{}, err
	}
	unlock, err := v.locker.Lock(ctx)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("acquire vault lock: %w", err)
	}
	defer unlock()

	balance, err := v.ledger.Balance(ctx, depositor)
	if err != nil {
		return ledger.Entry{}, err
	}
	if amount.Gt(balance) {
		return ledger.Entry{}, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, balance.Dec(), amount.Dec())
	}
	if amount.Gt(v.params.WithdrawalCeiling) {
		return ledger.Entry{}, fmt.Errorf("%w: requested %s, ceiling %s", ErrWithdrawalTooLarge, amount.Dec(), v.params.WithdrawalCeiling.Dec())
	}

	token, err := v.tokens.Token(v.params.UnitOfAccount)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	var unconfirmed error
	entry, err = v.ledger.Debit(ctx, ledger.Posting{
		Depositor: depositor,
		Amount:    amount,
		Asset:     v.params.UnitOfAccount,
	}, func(ctx context.Context) error {
		if err := token.Transfer(ctx, depositor, amount); err != nil {
			if errors.Is(err, custody.ErrOutcomeUnknown) {
				unconfirmed = err
				return nil
			}
			return fmt.Errorf("%w: send %s to %s: %w", ErrTransferFailed, amount.Dec(), depositor.Hex(), err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrCommitAfterInteraction) {
			v.logger.Error("withdrawal transferred but not recorded",
				slog.String("depositor", depositor.Hex()),
				slog.String("amount", amount.Dec()),
				slog.Any("error", err),
			)
		}
		return ledger.Entry{}, err
	}

	if unconfirmed != nil {
		v.logger.Error("withdrawal outcome unknown, debit kept for reconciliation",
			slog.String("depositor", depositor.Hex()),
			slog.String("amount", amount.Dec()),
			slog.String("balance", entry.Balance.Dec()),
			slog.Any("error", unconfirmed),
		)
		v.metrics.SetTotalDeposits(entry.Total)

		event := events.New(events.KindWithdrawalPending, depositor.Hex())
		event.Asset = v.params.UnitOfAccount.Hex()
		event.Amount = amount.Dec()
		event.Reason = Reason(unconfirmed)
		v.publish(ctx, event)

		return entry, fmt.Errorf("send %s to %s: %w", amount.Dec(), depositor.Hex(), unconfirmed)
	}

	v.logger.Info("withdrawal completed",
		slog.String("depositor", depositor.Hex()),
		slog.String("amount", amount.Dec()),
		slog.String("balance", entry.Balance.Dec()),
		slog.String("total", entry.Total.Dec()),
	)
	v.metrics.SetTotalDeposits(entry.Total)

	event := events.New(events.KindWithdrawn, depositor.Hex())
	event.Asset = v.params.UnitOfAccount.Hex()
	event.Amount = amount.Dec()
	v.publish(ctx, event)

	return entry, nil
}

// Balance returns the depositor's unit-of-account balance.
func (v *Vault) Balance(ctx context.Context, depositor common.Address) (*uint256.Int, error) {
	return v.ledger.Balance(ctx, depositor)
}

// State returns totals, counters and the fixed limits.
func (v *Vault) State(ctx context.Context) (Snapshot, error) {
	st, err := v.ledger.State(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		TotalDeposits:     st.TotalDeposits,
		DepositCount:      st.DepositCount,
		WithdrawalCount:   st.WithdrawalCount,
		Capacity:          v.admission.Capacity(),
		Remaining:         v.admission.Remaining(st.TotalDeposits),
		WithdrawalCeiling: new(uint256.Int).Set(v.params.WithdrawalCeiling),
		ToleranceBps:      v.tolerance.Bps(),
		UnitOfAccount:     v.params.UnitOfAccount,
		BaseRoutingAsset:  v.params.BaseRoutingAsset,
		UnitDecimals:      v.params.UnitDecimals,
	}, nil
}

// Entries returns ledger entries newest first. The zero depositor lists
// every depositor and a limit of 0 means no limit.
func (v *Vault) Entries(ctx context.Context, depositor common.Address, limit int) ([]ledger.Entry, error) {
	return v.ledger.Entries(ctx, depositor, limit)
}

// Quote previews what depositing amount of asset would credit at most and
// the floor the swap would be held to.
func (v *Vault) Quote(ctx context.Context, asset common.Address, amount *uint256.Int) (QuotePreview, error) {
	if amount == nil || amount.IsZero() || asset == (common.Address{}) {
		return QuotePreview{}, ErrInvalidAmount
	}
	if asset == v.params.UnitOfAccount {
		exact := new(uint256.Int).Set(amount)
		return QuotePreview{
			Quote: Quote{
				Asset:    asset,
				AmountIn: exact,
				Path:     []common.Address{asset},
				Amounts:  []*uint256.Int{exact},
				Estimate: exact,
			},
			Floor: exact,
		}, nil
	}
	q, err := v.estimator.Estimate(ctx, asset, amount)
	if err != nil {
		return QuotePreview{}, err
	}
	return QuotePreview{Quote: q, Floor: v.tolerance.Floor(q.Estimate)}, nil
}

func (v *Vault) reportStranded(ctx context.Context, depositor, asset common.Address, amount *uint256.Int, cause error) {
	v.logger.Error("deposit input stranded in custody",
		slog.String("depositor", depositor.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount_in", amountString(amount)),
		slog.Any("error", cause),
	)
	v.metrics.ObserveStranded(asset.Hex())

	event := events.New(events.KindConversionStranded, depositor.Hex())
	event.Asset = asset.Hex()
	event.AmountIn = amountString(amount)
	event.Reason = Reason(cause)
	v.publish(ctx, event)
}

// publish never fails the operation; the state change already happened.
func (v *Vault) publish(ctx context.Context, event events.Event) {
	if err := v.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		v.logger.Warn("failed to publish vault event",
			slog.String("kind", event.Kind),
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
	}
}

func (v *Vault) observe(op string, start time.Time, err error) {
	v.metrics.ObserveOperation(op, Reason(err), time.Since(start))
}
