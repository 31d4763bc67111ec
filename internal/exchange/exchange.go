// Package exchange describes the swap facility the vault converts deposits
// through, and provides a simulated implementation for development.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNoLiquidity        = errors.New("no liquidity for path")
	ErrExpired            = errors.New("swap deadline expired")
	ErrInsufficientOutput = errors.New("insufficient output amount")
	ErrInvalidPath        = errors.New("invalid swap path")
)

// Exchange quotes and executes swaps along a path of assets. The returned
// slices hold one amount per path element, starting with amountIn.
type Exchange interface {
	Quote(ctx context.Context, path []common.Address, amountIn *uint256.Int) ([]*uint256.Int, error)
	Execute(ctx context.Context, amountIn, amountOutMin *uint256.Int, path []common.Address, recipient common.Address, deadline time.Time) ([]*uint256.Int, error)
	// BaseAsset is the asset most pairs are quoted against (wrapped native).
	BaseAsset(ctx context.Context) (common.Address, error)
}

// ValidatePath checks the hop count and that no hop repeats its predecessor.
func ValidatePath(path []common.Address) error {
	if len(path) < 2 || len(path) > 3 {
		return ErrInvalidPath
	}
	for i := 1; i < len(path); i++ {
		if path[i] == path[i-1] {
			return ErrInvalidPath
		}
	}
	return nil
}
