package vault

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/holiman/uint256"
)

const maxEntriesLimit = 500

// Handler exposes vault operations over HTTP.
type Handler struct {
	vault *Vault
}

func NewHandler(v *Vault) *Handler {
	return &Handler{vault: v}
}

// DepositNative handles POST /deposits/native for the authenticated depositor.
func (h *Handler) DepositNative(c *fiber.Ctx) error {
	depositor, err := authenticated(c)
	if err != nil {
		return err
	}
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}

	receipt, err := h.vault.DepositNative(c.UserContext(), depositor, amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(h.toDepositResponse(receipt))
}

// DepositAsset handles POST /deposits.
func (h *Handler) DepositAsset(c *fiber.Ctx) error {
	depositor, err := authenticated(c)
	if err != nil {
		return err
	}
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		return h.fail(c, ErrInvalidAmount)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}

	receipt, err := h.vault.DepositAsset(c.UserContext(), depositor, asset, amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(h.toDepositResponse(receipt))
}

// Withdraw handles POST /withdrawals.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	depositor, err := authenticated(c)
	if err != nil {
		return err
	}
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}

	entry, err := h.vault.Withdraw(c.UserContext(), depositor, amount)
	if errors.Is(err, ErrOutcomeUnknown) {
		// Debit recorded, transfer unconfirmed.
		return c.Status(http.StatusAccepted).JSON(toEntryResponse(entry, h.vault.params.UnitDecimals))
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toEntryResponse(entry, h.vault.params.UnitDecimals))
}

// MyBalance returns the authenticated depositor's balance.
func (h *Handler) MyBalance(c *fiber.Ctx) error {
	depositor, err := authenticated(c)
	if err != nil {
		return err
	}
	return h.balance(c, depositor)
}

// Balance returns the balance of the depositor named in the path.
func (h *Handler) Balance(c *fiber.Ctx) error {
	depositor, err := parseAddress(c.Params("address"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid depositor address")
	}
	return h.balance(c, depositor)
}

func (h *Handler) balance(c *fiber.Ctx, depositor common.Address) error {
	bal, err := h.vault.Balance(c.UserContext(), depositor)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(BalanceResponse{
		Depositor:      depositor.Hex(),
		Balance:        bal.Dec(),
		BalanceDisplay: display(bal, h.vault.params.UnitDecimals),
	})
}

// Entries lists the depositor's journal, newest first.
func (h *Handler) Entries(c *fiber.Ctx) error {
	depositor, err := parseAddress(c.Params("address"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid depositor address")
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fiber.NewError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxEntriesLimit)
	}

	entries, err := h.vault.Entries(c.UserContext(), depositor, limit)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e, h.vault.params.UnitDecimals))
	}
	return c.JSON(fiber.Map{"entries": out})
}

// State returns totals, counters and limits.
func (h *Handler) State(c *fiber.Ctx) error {
	s, err := h.vault.State(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(StateResponse{
		TotalDeposits:        s.TotalDeposits.Dec(),
		TotalDepositsDisplay: display(s.TotalDeposits, s.UnitDecimals),
		DepositCount:         s.DepositCount,
		WithdrawalCount:      s.WithdrawalCount,
		Capacity:             s.Capacity.Dec(),
		Remaining:            s.Remaining.Dec(),
		WithdrawalCeiling:    s.WithdrawalCeiling.Dec(),
		ToleranceBps:         s.ToleranceBps,
		UnitOfAccount:        s.UnitOfAccount.Hex(),
		BaseRoutingAsset:     s.BaseRoutingAsset.Hex(),
		UnitDecimals:         s.UnitDecimals,
	})
}

// Quote previews a deposit: GET /quotes?asset=&amount=.
func (h *Handler) Quote(c *fiber.Ctx) error {
	asset, err := parseAddress(c.Query("asset"))
	if err != nil {
		return h.fail(c, ErrInvalidAmount)
	}
	amount, err := parseAmount(c.Query("amount"))
	if err != nil {
		return h.fail(c, err)
	}

	q, err := h.vault.Quote(c.UserContext(), asset, amount)
	if err != nil {
		return h.fail(c, err)
	}
	decimals := h.vault.params.UnitDecimals
	return c.JSON(QuoteResponse{
		Asset:           q.Asset.Hex(),
		AmountIn:        q.AmountIn.Dec(),
		Path:            hexPath(q.Path),
		Estimate:        q.Estimate.Dec(),
		EstimateDisplay: display(q.Estimate, decimals),
		Floor:           q.Floor.Dec(),
		FloorDisplay:    display(q.Floor, decimals),
	})
}

func (h *Handler) toDepositResponse(r Receipt) DepositResponse {
	resp := DepositResponse{
		Entry:     toEntryResponse(r.Entry, h.vault.params.UnitDecimals),
		Converted: r.Conversion.Converted(),
	}
	if resp.Converted {
		resp.Estimate = r.Conversion.Estimate.Dec()
		resp.Floor = r.Conversion.Floor.Dec()
		resp.Path = hexPath(r.Conversion.Path)
	}
	return resp
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return c.Status(status).JSON(ErrorResponse{Error: msg, Reason: Reason(err)})
}

// StatusFor maps vault errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDepositor), errors.Is(err, ErrWithdrawalTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrRouteUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, ErrOutcomeUnknown):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrConversionShortfall), errors.Is(err, ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// authenticated reads the depositor set by the JWT middleware.
func authenticated(c *fiber.Ctx) (common.Address, error) {
	raw, _ := c.Locals("depositor").(string)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fiber.NewError(http.StatusUnauthorized, "depositor not authenticated")
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidAmount, err)
	}
	return v, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(raw), nil
}

func hexPath(path []common.Address) []string {
	out := make([]string, len(path))
	for i, a := range path {
		out[i] = a.Hex()
	}
	return out
}
