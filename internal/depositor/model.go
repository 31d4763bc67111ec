package depositor

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Depositor is a registered account holder. The vault keys balances by
// Address; ID and TokenVersion only matter to authentication.
type Depositor struct {
	ID           string
	Address      common.Address
	SecretHash   []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Credentials request structure.
type Credentials struct {
	Address string
	Secret  string
}
