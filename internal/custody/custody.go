// Package custody models the asset-transfer primitive the vault uses to move
// value in and out of custody.
package custody

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientFunds is returned when the owner does not hold enough of the asset.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientAllowance is returned when the spender was not approved for the amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrUnknownAsset is returned by a Registry that cannot resolve an asset.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrOutcomeUnknown is returned when a transfer was submitted but whether it
	// took effect could not be confirmed. Callers must not assume it failed.
	ErrOutcomeUnknown = errors.New("transfer outcome unknown")
)

// Token is a fungible asset as seen from the custodian. A failed call moves
// nothing.
type Token interface {
	Address() common.Address
	// TransferFrom pulls amount from owner into recipient using the
	// custodian's allowance.
	TransferFrom(ctx context.Context, owner, recipient common.Address, amount *uint256.Int) error
	// Transfer sends amount from the custodian to recipient.
	Transfer(ctx context.Context, recipient common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	// Approve grants spender an allowance over the custodian's holdings.
	Approve(ctx context.Context, spender common.Address, amount *uint256.Int) error
}

// Registry resolves asset identities to tokens.
type Registry interface {
	Token(asset common.Address) (Token, error)
}

// MaxAllowance is the maximal uint256 value. An allowance of this size is
// never decremented.
func MaxAllowance() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}
