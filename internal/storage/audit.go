package storage

import (
	"context"
	"fmt"

	"github.com/study-agent/backend/internal/session"
	"github.com/study-agent/backend/internal/storage/models"
)

type turnWriter interface {
	InsertTurn(record *models.TurnRecord) error
	InsertTurnCitations(turnID string, citations []models.TurnCitation) error
}

// AuditRecorder persists finalized turns for history queries. It mirrors the
// thread store but survives restarts.
type AuditRecorder struct {
	store turnWriter
}

func NewAuditRecorder(store turnWriter) *AuditRecorder {
	return &AuditRecorder{store: store}
}

func (r *AuditRecorder) RecordTurn(ctx context.Context, sessionID string, turn session.Turn, latencyMS int) error {
	record := &models.TurnRecord{
		ID:        turn.TurnID,
		SessionID: sessionID,
		Query:     turn.Query,
		Intent:    turn.Intent,
		Success:   turn.Success,
		ErrorKind: turn.ErrorKind,
		Summary:   turn.Summary,
		Cancelled: turn.Cancelled,
		LatencyMS: latencyMS,
		CreatedAt: turn.CreatedAt,
	}

	if err := r.store.InsertTurn(record); err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}

	if len(turn.Citations) == 0 {
		return nil
	}

	citations := make([]models.TurnCitation, len(turn.Citations))
	for i, citation := range turn.Citations {
		citations[i] = models.TurnCitation{
			TurnID:   turn.TurnID,
			SourceID: citation.SourceID,
			Locator:  citation.Locator,
			Excerpt:  citation.Excerpt,
		}
	}

	return r.store.InsertTurnCitations(turn.TurnID, citations)
}
