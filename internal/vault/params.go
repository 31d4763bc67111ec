package vault

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	maxToleranceBps     = 10_000
	defaultSwapDeadline = 5 * time.Minute
)

// Params are the creation parameters of a vault. They are copied by New and
// never change afterwards.
type Params struct {
	CapacityCeiling   *uint256.Int
	WithdrawalCeiling *uint256.Int
	ToleranceBps      uint64
	UnitOfAccount     common.Address
	// Exchange is the address the custodian approves to spend its input
	// assets.
	Exchange common.Address
	// BaseRoutingAsset is resolved from the exchange when left zero.
	BaseRoutingAsset common.Address
	Custodian        common.Address
	SwapDeadline     time.Duration
	UnitDecimals     int32
}

func (p Params) validate() error {
	switch {
	case p.Exchange == (common.Address{}):
		return fmt.Errorf("%w: exchange address required", ErrInvalidConfiguration)
	case p.UnitOfAccount == (common.Address{}):
		return fmt.Errorf("%w: unit of account asset required", ErrInvalidConfiguration)
	case p.Custodian == (common.Address{}):
		return fmt.Errorf("%w: custodian address required", ErrInvalidConfiguration)
	case p.ToleranceBps > maxToleranceBps:
		return fmt.Errorf("%w: tolerance %d bps exceeds %d", ErrInvalidConfiguration, p.ToleranceBps, maxToleranceBps)
	case p.CapacityCeiling == nil:
		return fmt.Errorf("%w: capacity ceiling required", ErrInvalidConfiguration)
	case p.WithdrawalCeiling == nil:
		return fmt.Errorf("%w: withdrawal ceiling required", ErrInvalidConfiguration)
	case p.UnitDecimals < 0:
		return fmt.Errorf("%w: unit decimals must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

func (p Params) clone() Params {
	out := p
	out.CapacityCeiling = new(uint256.Int).Set(p.CapacityCeiling)
	out.WithdrawalCeiling = new(uint256.Int).Set(p.WithdrawalCeiling)
	if out.SwapDeadline <= 0 {
		out.SwapDeadline = defaultSwapDeadline
	}
	return out
}
