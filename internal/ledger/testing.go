package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SeedBalance is a test helper that seeds the balance for a depositor when
// using the in-memory ledger. The running total moves with it so the
// ledger stays balanced.
func SeedBalance(l Ledger, depositor common.Address, amount uint64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		prev := cloneAmount(mem.balances[depositor])
		next := uint256.NewInt(amount)
		total := new(uint256.Int).Sub(mem.state.TotalDeposits, prev)
		mem.state.TotalDeposits = total.Add(total, next)
		mem.balances[depositor] = next
	}
}
