package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/capvault/internal/logging"
)

func auditLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		line := map[string]any{}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("decode log line %q: %v", sc.Text(), err)
		}
		out = append(out, line)
	}
	return out
}

func TestAuditRecordsDepositorAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(RequestID(), Audit(logging.NewWithWriter(&buf, "info")))
	app.Post("/withdrawals", func(c *fiber.Ctx) error {
		c.Locals(LocalDepositor, "0x00000000000000000000000000000000000A11cE")
		return c.SendStatus(fiber.StatusCreated)
	})

	req := httptest.NewRequest(fiber.MethodPost, "/withdrawals", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	lines := auditLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	line := lines[0]
	if line["depositor"] != "0x00000000000000000000000000000000000A11cE" {
		t.Fatalf("expected depositor in audit line, got %v", line["depositor"])
	}
	if line["request_id"] != "req-42" || line["audit"] != true {
		t.Fatalf("unexpected audit line: %v", line)
	}
	if line["status"] != float64(fiber.StatusCreated) {
		t.Fatalf("expected status 201, got %v", line["status"])
	}
}

func TestAuditLogsStatusOfReturnedError(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(Audit(logging.NewWithWriter(&buf, "info")))
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "nope")
	})

	if _, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil), -1); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	lines := auditLines(t, &buf)
	if len(lines) != 1 || lines[0]["status"] != float64(fiber.StatusNotFound) {
		t.Fatalf("expected a 404 audit line, got %v", lines)
	}
	if _, ok := lines[0]["depositor"]; ok {
		t.Fatalf("anonymous request must not carry a depositor: %v", lines[0])
	}
}

func TestRequestIDReplacesMalformedHeader(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	oversized := strings.Repeat("x", maxRequestIDLen+1)
	req.Header.Set(requestIDHeader, oversized)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	got := resp.Header.Get(requestIDHeader)
	if got == "" || got == oversized {
		t.Fatalf("expected a generated request id, got %q", got)
	}
}
