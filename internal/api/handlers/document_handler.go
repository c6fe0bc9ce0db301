package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/ingestion"
	"github.com/study-agent/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		Title   string `json:"title"`
		Subject string `json:"subject"`
		DocType string `json:"doc_type"`
		Content string `json:"content"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Title == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and content are required",
		})
	}

	docID, chunks, err := h.processor.IngestDocument(c.Context(), ingestion.DocumentInput{
		Title:   req.Title,
		Subject: req.Subject,
		DocType: req.DocType,
		Content: req.Content,
	})
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.JSON(fiber.Map{
		"document_id": docID,
		"chunks":      chunks,
		"message":     "Document processed successfully",
	})
}
