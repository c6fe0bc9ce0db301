package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/refgraph/neo4j"
	"github.com/study-agent/backend/internal/storage/models"
	"github.com/study-agent/backend/pkg/logger"
)

type turnLister interface {
	ListTurns(ctx context.Context, sessionID string, limit int) ([]models.TurnRecord, error)
}

type referenceLister interface {
	ListReferences(ctx context.Context, sessionID string) ([]neo4j.Reference, error)
}

type SessionHandler struct {
	turns      turnLister
	references referenceLister
}

func NewSessionHandler(turns turnLister, references referenceLister) *SessionHandler {
	return &SessionHandler{
		turns:      turns,
		references: references,
	}
}

func (h *SessionHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session id is required",
		})
	}

	limit := c.QueryInt("limit", 50)

	turns, err := h.turns.ListTurns(c.Context(), sessionID, limit)
	if err != nil {
		logger.Error("Failed to list turns", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session history",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"turns":      turns,
	})
}

// GetReferences lists every source this session has cited, most used first.
func (h *SessionHandler) GetReferences(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session id is required",
		})
	}

	if h.references == nil {
		return c.JSON(fiber.Map{
			"session_id": sessionID,
			"references": []neo4j.Reference{},
		})
	}

	references, err := h.references.ListReferences(c.Context(), sessionID)
	if err != nil {
		logger.Error("Failed to list references", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session references",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"references": references,
	})
}
