package vault

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/holiman/uint256"

	"github.com/congo-pay/capvault/internal/custody"
	"github.com/congo-pay/capvault/internal/ledger"
)

func newTestApp(t *testing.T, f *fixture) *fiber.App {
	t.Helper()
	h := NewHandler(f.vault)
	app := fiber.New()
	api := app.Group("/api/v1")
	api.Get("/vault/state", h.State)
	api.Get("/quotes", h.Quote)
	api.Get("/depositors/:address/balance", h.Balance)
	api.Get("/depositors/:address/entries", h.Entries)

	protected := api.Group("", func(c *fiber.Ctx) error {
		if who := c.Get("X-Test-Depositor"); who != "" {
			c.Locals("depositor", who)
		}
		return c.Next()
	})
	protected.Post("/deposits", h.DepositAsset)
	protected.Post("/deposits/native", h.DepositNative)
	protected.Post("/withdrawals", h.Withdraw)
	protected.Get("/balance", h.MyBalance)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body, depositor string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if depositor != "" {
		req.Header.Set("X-Test-Depositor", depositor)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, raw
}

func TestHandlerDepositWithdrawFlow(t *testing.T) {
	f := newFixture(t, fixtureConfig{params: func(p *Params) { p.WithdrawalCeiling = uint256.NewInt(10_000_000) }})
	app := newTestApp(t, f)
	f.fund(t, alice, usdc, 15_000_000)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/deposits",
		`{"asset":"`+usdc.Hex()+`","amount":"15000000"}`, alice.Hex())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var dep DepositResponse
	if err := json.Unmarshal(body, &dep); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if dep.Entry.BalanceDisplay != "15" || dep.Converted {
		t.Fatalf("unexpected deposit response: %+v", dep)
	}

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/withdrawals", `{"amount":"12000000"}`, alice.Hex())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for withdrawal over ceiling, got %d: %s", resp.StatusCode, body)
	}
	var errResp ErrorResponse
	_ = json.Unmarshal(body, &errResp)
	if errResp.Reason != "withdrawal_too_large" {
		t.Fatalf("unexpected reason %q", errResp.Reason)
	}

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/withdrawals", `{"amount":"10000000"}`, alice.Hex())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/balance", "", alice.Hex())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var bal BalanceResponse
	_ = json.Unmarshal(body, &bal)
	if bal.Balance != "5000000" || bal.BalanceDisplay != "5" {
		t.Fatalf("unexpected balance %+v", bal)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/depositors/"+alice.Hex()+"/entries?limit=1", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var listed struct {
		Entries []EntryResponse `json:"entries"`
	}
	_ = json.Unmarshal(body, &listed)
	if len(listed.Entries) != 1 || listed.Entries[0].Kind != "withdrawal" {
		t.Fatalf("expected latest withdrawal entry, got %+v", listed.Entries)
	}
}

func TestHandlerRequiresAuthenticatedDepositor(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	app := newTestApp(t, f)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/withdrawals", `{"amount":"1"}`, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHandlerMapsVaultErrors(t *testing.T) {
	f := newFixture(t, fixtureConfig{params: func(p *Params) { p.CapacityCeiling = uint256.NewInt(100) }})
	app := newTestApp(t, f)
	f.fund(t, alice, usdc, 1_000)

	cases := []struct {
		body   string
		status int
		reason string
	}{
		{`{"asset":"` + usdc.Hex() + `","amount":"0"}`, http.StatusBadRequest, "invalid_amount"},
		{`{"asset":"` + usdc.Hex() + `","amount":"-5"}`, http.StatusBadRequest, "invalid_amount"},
		{`{"asset":"not-an-address","amount":"5"}`, http.StatusBadRequest, "invalid_amount"},
		{`{"asset":"` + usdc.Hex() + `","amount":"101"}`, http.StatusConflict, "capacity_exceeded"},
	}
	for _, tc := range cases {
		resp, body := doJSON(t, app, http.MethodPost, "/api/v1/deposits", tc.body, alice.Hex())
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.body, tc.status, resp.StatusCode, body)
		}
		var errResp ErrorResponse
		_ = json.Unmarshal(body, &errResp)
		if errResp.Reason != tc.reason {
			t.Fatalf("%s: expected reason %q, got %q", tc.body, tc.reason, errResp.Reason)
		}
	}
}

func TestHandlerUnconfirmedWithdrawalIsAccepted(t *testing.T) {
	f := newFixture(t, fixtureConfig{tokens: func(r custody.Registry) custody.Registry {
		return unconfirmedRegistry{Registry: r}
	}})
	app := newTestApp(t, f)
	ledger.SeedBalance(f.ledger, alice, 5_000)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/withdrawals", `{"amount":"1000"}`, alice.Hex())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}
	var entry EntryResponse
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Balance != "4000" {
		t.Fatalf("expected balance 4000 after kept debit, got %s", entry.Balance)
	}
}

func TestHandlerStateAndQuote(t *testing.T) {
	f := newFixture(t, fixtureConfig{params: func(p *Params) { p.CapacityCeiling = uint256.NewInt(1_000_000) }})
	app := newTestApp(t, f)

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/vault/state", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var st StateResponse
	_ = json.Unmarshal(body, &st)
	if st.Capacity != "1000000" || st.Remaining != "1000000" || st.ToleranceBps != 50 {
		t.Fatalf("unexpected state %+v", st)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/quotes?asset="+dai.Hex()+"&amount=4000", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var q QuoteResponse
	_ = json.Unmarshal(body, &q)
	if q.Estimate != "4000" || q.Floor != "3980" || len(q.Path) != 3 {
		t.Fatalf("unexpected quote %+v", q)
	}
}
