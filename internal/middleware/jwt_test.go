package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/capvault/internal/auth"
	"github.com/congo-pay/capvault/internal/config"
	"github.com/congo-pay/capvault/internal/depositor"
	"github.com/congo-pay/capvault/internal/logging"
)

func TestJWTAuthExposesDepositor(t *testing.T) {
	repo := depositor.NewMemoryRepository()
	d, err := depositor.NewService(repo).Register(context.Background(), depositor.Credentials{
		Address: "0x00000000000000000000000000000000000a11ce",
		Secret:  "correct horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tokens := auth.NewService(config.Config{
		JWTSecret:       "access",
		RefreshSecret:   "refresh",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}, repo)
	pair, err := tokens.Login(d)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	app := fiber.New()
	app.Get("/me", JWTAuth(tokens, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalDepositor).(string))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+pair.AccessToken)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK || string(body) != d.Address.Hex() {
		t.Fatalf("expected 200 %s, got %d %s", d.Address.Hex(), resp.StatusCode, body)
	}

	if err := tokens.Logout(context.Background(), d.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	req = httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+pair.AccessToken)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized || string(body) != "token invalidated" {
		t.Fatalf("expected 401 token invalidated after logout, got %d %s", resp.StatusCode, body)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer not.a.jwt")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized || string(body) != "invalid token" {
		t.Fatalf("expected 401 invalid token for a malformed token, got %d %s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/me", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}
