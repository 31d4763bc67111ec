package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/ledger"
)

var (
	// ErrInvalidAmount is returned for zero amounts or a missing asset.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientBalance is returned when a withdrawal exceeds holdings.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	// ErrWithdrawalTooLarge is returned when a withdrawal exceeds the per-operation ceiling.
	ErrWithdrawalTooLarge = errors.New("withdrawal exceeds per-operation ceiling")
	// ErrCapacityExceeded is returned when admission would push the total past capacity.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTransferFailed wraps a failed movement of assets in or out of custody.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrOutcomeUnknown is returned when a transfer was submitted but never
	// confirmed. The ledger keeps the effects that assume it went through.
	ErrOutcomeUnknown = custody.ErrOutcomeUnknown
	// ErrConversionShortfall is returned when a swap failed or delivered less than the floor.
	ErrConversionShortfall = errors.New("conversion shortfall")
	// ErrRouteUnavailable is returned when the exchange has no viable path.
	ErrRouteUnavailable = errors.New("route unavailable")
	// ErrInvalidConfiguration is returned by New for bad creation parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrReentrantCall is returned when a mutating call arrives on the context
	// of an operation that has not finished.
	ErrReentrantCall = errors.New("reentrant call")
	// ErrInvalidDepositor is returned for the zero depositor address.
	ErrInvalidDepositor = errors.New("invalid depositor")
)

// ConversionError reports a conversion whose input was pulled into custody
// but never credited. The input stays with the custodian.
type ConversionError struct {
	Asset    common.Address
	AmountIn *uint256.Int
	Floor    *uint256.Int
	Realized *uint256.Int
	Cause    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: %s of %s stranded in custody", ErrConversionShortfall, amountString(e.AmountIn), e.Asset.Hex())
	if e.Realized != nil && e.Floor != nil {
		msg += fmt.Sprintf(" (realized %s, floor %s)", e.Realized.Dec(), e.Floor.Dec())
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConversionShortfall}
	}
	return []error{ErrConversionShortfall, e.Cause}
}

// Reason maps an error to a stable snake_case kind used in metrics labels,
// events and API responses. A nil error has no reason.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidDepositor):
		return "invalid_depositor"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrWithdrawalTooLarge):
		return "withdrawal_too_large"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrOutcomeUnknown):
		return "outcome_unknown"
	case errors.Is(err, ErrConversionShortfall):
		return "conversion_shortfall"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrRouteUnavailable):
		return "route_unavailable"
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	default:
		return "internal"
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
