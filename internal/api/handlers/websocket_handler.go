package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/router"
	"github.com/study-agent/backend/pkg/logger"
)

// WebSocketHandler streams turn progress to the client: each reasoning
// trace line as it becomes available, then the full envelope.
type WebSocketHandler struct {
	router *router.Router
}

func NewWebSocketHandler(r *router.Router) *WebSocketHandler {
	return &WebSocketHandler{
		router: r,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Text      string `json:"text"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "turn" {
			continue
		}

		if msg.SessionID == "" {
			h.sendError(c, "session_id is required")
			continue
		}

		if err := h.streamTurn(c, msg.SessionID, msg.Text); err != nil {
			logger.Error("Failed to stream turn", zap.Error(err))
			h.sendError(c, "Failed to process request")
		}
	}
}

func (h *WebSocketHandler) streamTurn(c *websocket.Conn, sessionID, text string) error {
	if err := h.sendChunk(c, "status", "Working on it..."); err != nil {
		return err
	}

	envelope := h.router.Route(context.Background(), sessionID, text)

	for _, line := range envelope.ReasoningTrace {
		if err := h.sendChunk(c, "trace", line); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":     "complete",
		"envelope": envelope,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
