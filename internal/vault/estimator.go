package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/exchange"
)

// Quote is the exchange's expected output for converting AmountIn of Asset
// into the unit of account along Path.
type Quote struct {
	Asset    common.Address
	AmountIn *uint256.Int
	Path     []common.Address
	Amounts  []*uint256.Int
	Estimate *uint256.Int
}

// Estimator builds routing paths and asks the exchange for read-only quotes.
type Estimator struct {
	exchange exchange.Exchange
	base     common.Address
	unit     common.Address
}

func NewEstimator(ex exchange.Exchange, base, unit common.Address) *Estimator {
	return &Estimator{exchange: ex, base: base, unit: unit}
}

// Path routes the base asset directly to the unit of account and every
// other asset through the base asset.
func (e *Estimator) Path(asset common.Address) []common.Address {
	if asset == e.base {
		return []common.Address{asset, e.unit}
	}
	return []common.Address{asset, e.base, e.unit}
}

func (e *Estimator) Estimate(ctx context.Context, asset common.Address, amount *uint256.Int) (Quote, error) {
	path := e.Path(asset)
	amounts, err := e.exchange.Quote(ctx, path, amount)
	if err != nil {
		if errors.Is(err, exchange.ErrNoLiquidity) || errors.Is(err, exchange.ErrInvalidPath) {
			return Quote{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
		}
		return Quote{}, fmt.Errorf("quote %s: %w", asset.Hex(), err)
	}
	if len(amounts) < 2 {
		return Quote{}, fmt.Errorf("%w: exchange returned %d amounts", ErrRouteUnavailable, len(amounts))
	}
	estimate := amounts[len(amounts)-1]
	if estimate == nil || estimate.IsZero() {
		return Quote{}, fmt.Errorf("%w: zero output for %s", ErrRouteUnavailable, asset.Hex())
	}
	return Quote{
		Asset:    asset,
		AmountIn: new(uint256.Int).Set(amount),
		Path:     path,
		Amounts:  amounts,
		Estimate: new(uint256.Int).Set(estimate),
	}, nil
}
