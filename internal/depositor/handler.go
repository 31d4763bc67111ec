package depositor

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes depositor endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a depositor HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

type registerResponse struct {
	DepositorID string `json:"depositor_id"`
	Address     string `json:"address"`
	CreatedAt   string `json:"created_at"`
}

// Register handles depositor onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	d, err := h.service.Register(c.UserContext(), Credentials{Address: req.Address, Secret: req.Secret})
	if err != nil {
		switch {
		case errors.Is(err, ErrDepositorExists):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrWeakSecret):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("depositor.register failed", slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}
	}
	h.logger.Info("depositor.register completed",
		slog.String("depositor_id", d.ID),
		slog.String("address", d.Address.Hex()),
	)
	return c.Status(http.StatusCreated).JSON(registerResponse{
		DepositorID: d.ID,
		Address:     d.Address.Hex(),
		CreatedAt:   d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
