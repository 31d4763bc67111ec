package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/capvault/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints. Logout needs a valid
// access token, so it goes through requireAuth.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter, requireAuth fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
	} else {
		group.Post("/login", h.Login)
	}
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", requireAuth, h.Logout)
}
