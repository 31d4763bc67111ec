package vault

import "github.com/holiman/uint256"

// Tolerance derives the minimum acceptable swap output from an estimate.
type Tolerance struct {
	bps uint64
}

func NewTolerance(bps uint64) Tolerance {
	if bps > maxToleranceBps {
		bps = maxToleranceBps
	}
	return Tolerance{bps: bps}
}

func (t Tolerance) Bps() uint64 { return t.bps }

// Floor returns estimate * (10000 - bps) / 10000, truncated.
func (t Tolerance) Floor(estimate *uint256.Int) *uint256.Int {
	if estimate == nil {
		return new(uint256.Int)
	}
	floor, _ := new(uint256.Int).MulDivOverflow(
		estimate,
		uint256.NewInt(maxToleranceBps-t.bps),
		uint256.NewInt(maxToleranceBps),
	)
	return floor
}
