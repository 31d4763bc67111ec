package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/capvault/internal/depositor"
)

// RegisterDepositorRoutes wires depositor onboarding.
func RegisterDepositorRoutes(r fiber.Router, h *depositor.Handler) {
	r.Post("/depositors/register", h.Register)
}
