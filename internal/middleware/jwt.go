package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/capvault/internal/auth"
)

// Locals keys populated for authenticated requests.
const (
	LocalDepositor   = "depositor"
	LocalDepositorID = "depositor_id"
)

// JWTAuth returns a middleware that validates access tokens, including the
// token version, and exposes the depositor address to handlers.
func JWTAuth(tokens *auth.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		d, err := tokens.Authenticate(c.UserContext(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenInvalidated):
				return fiber.NewError(http.StatusUnauthorized, "token invalidated")
			case errors.Is(err, auth.ErrInvalidToken):
				return fiber.NewError(http.StatusUnauthorized, "invalid token")
			}
			logger.Error("token verification failed", slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}

		c.Locals(LocalDepositor, d.Address.Hex())
		c.Locals(LocalDepositorID, d.ID)
		return c.Next()
	}
}
