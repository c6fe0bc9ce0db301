package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/router"
	"github.com/study-agent/backend/pkg/logger"
)

type TurnHandler struct {
	router *router.Router
}

func NewTurnHandler(r *router.Router) *TurnHandler {
	return &TurnHandler{
		router: r,
	}
}

// HandleTurn runs one study request through the orchestrator and returns
// its envelope. Failed turns still return the full envelope so callers can
// branch on the error kind.
func (h *TurnHandler) HandleTurn(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	envelope := h.router.Route(c.Context(), req.SessionID, req.Text)

	return c.Status(statusForEnvelope(envelope)).JSON(envelope)
}

func statusForEnvelope(envelope *router.Envelope) int {
	if envelope.Success {
		return fiber.StatusOK
	}

	switch envelope.Error.Kind {
	case router.ErrKindInvalidInput:
		return fiber.StatusBadRequest
	case router.ErrKindAmbiguousIntent, router.ErrKindMissingParameter:
		return fiber.StatusUnprocessableEntity
	case router.ErrKindSessionBusy:
		return fiber.StatusConflict
	case router.ErrKindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}
