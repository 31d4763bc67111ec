package vault

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/capvault/internal/ledger"
)

// DepositRequest captures a deposit. Asset is ignored for native deposits.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// WithdrawRequest captures a withdrawal of unit-of-account base units.
type WithdrawRequest struct {
	Amount string `json:"amount"`
}

// EntryResponse is a journal line as returned by the API.
type EntryResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Depositor      string    `json:"depositor"`
	Asset          string    `json:"asset"`
	AmountIn       string    `json:"amount_in"`
	Amount         string    `json:"amount"`
	AmountDisplay  string    `json:"amount_display"`
	Balance        string    `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	Total          string    `json:"total"`
	CreatedAt      time.Time `json:"created_at"`
}

// DepositResponse is returned after a successful deposit.
type DepositResponse struct {
	Entry     EntryResponse `json:"entry"`
	Converted bool          `json:"converted"`
	Estimate  string        `json:"estimate,omitempty"`
	Floor     string        `json:"floor,omitempty"`
	Path      []string      `json:"path,omitempty"`
}

type BalanceResponse struct {
	Depositor      string `json:"depositor"`
	Balance        string `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

type StateResponse struct {
	TotalDeposits        string `json:"total_deposits"`
	TotalDepositsDisplay string `json:"total_deposits_display"`
	DepositCount         uint64 `json:"deposit_count"`
	WithdrawalCount      uint64 `json:"withdrawal_count"`
	Capacity             string `json:"capacity"`
	Remaining            string `json:"remaining_capacity"`
	WithdrawalCeiling    string `json:"withdrawal_ceiling"`
	ToleranceBps         uint64 `json:"tolerance_bps"`
	UnitOfAccount        string `json:"unit_of_account"`
	BaseRoutingAsset     string `json:"base_routing_asset"`
	UnitDecimals         int32  `json:"unit_decimals"`
}

type QuoteResponse struct {
	Asset           string   `json:"asset"`
	AmountIn        string   `json:"amount_in"`
	Path            []string `json:"path"`
	Estimate        string   `json:"estimate"`
	EstimateDisplay string   `json:"estimate_display"`
	Floor           string   `json:"floor"`
	FloorDisplay    string   `json:"floor_display"`
}

// ErrorResponse carries the message and a stable reason code.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// display renders base units as a decimal string with the unit's precision.
func display(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

func toEntryResponse(e ledger.Entry, decimals int32) EntryResponse {
	return EntryResponse{
		ID:             e.ID,
		Kind:           e.Kind,
		Depositor:      e.Depositor.Hex(),
		Asset:          e.Asset.Hex(),
		AmountIn:       amountString(e.AmountIn),
		Amount:         amountString(e.Amount),
		AmountDisplay:  display(e.Amount, decimals),
		Balance:        amountString(e.Balance),
		BalanceDisplay: display(e.Balance, decimals),
		Total:          amountString(e.Total),
		CreatedAt:      e.CreatedAt,
	}
}
