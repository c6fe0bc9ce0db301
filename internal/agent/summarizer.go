package agent

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/llm"
	"github.com/study-agent/backend/pkg/logger"
)

type documentReader interface {
	GetContent(ctx context.Context, documentID string) (string, error)
}

type summaryGenerator interface {
	SummarizeDocument(ctx context.Context, content string) (*llm.StudySummary, error)
}

// SummaryPayload is the summarizer's result content.
type SummaryPayload struct {
	DocumentID  string   `json:"document_id"`
	MainTopic   string   `json:"main_topic"`
	KeyConcepts []string `json:"key_concepts"`
	StudyNotes  string   `json:"study_notes"`
}

// SummarizerAgent produces a structured study summary of one uploaded
// document. Its evidence is always exactly the source document; it never
// fabricates citations.
type SummarizerAgent struct {
	docs documentReader
	llm  summaryGenerator
}

func NewSummarizerAgent(docs documentReader, generator summaryGenerator) *SummarizerAgent {
	return &SummarizerAgent{docs: docs, llm: generator}
}

func (a *SummarizerAgent) Intent() intent.Kind { return intent.Summarizer }

func (a *SummarizerAgent) Idempotent() bool { return true }

func (a *SummarizerAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	documentID, ok := task.Param("document_id")
	if !ok || documentID == "" {
		return nil, fmt.Errorf("%w: document_id", ErrMissingParameter)
	}

	content, err := a.docs.GetContent(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load document: %v", ErrUnavailable, err)
	}

	if content == "" {
		return &Result{
			Status: StatusRecoverableEmpty,
			Payload: SummaryPayload{
				DocumentID: documentID,
			},
			Trace: []string{fmt.Sprintf("document %s has no stored content; nothing to summarize", documentID)},
		}, nil
	}

	summary, err := a.llm.SummarizeDocument(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("%w: summary generation failed: %v", ErrUnavailable, err)
	}

	logger.Info("Document summarized",
		zap.String("document_id", documentID),
		zap.Int("key_concepts", len(summary.KeyConcepts)),
	)

	sourceItem := evidence.Item{
		SourceID:    documentID,
		Excerpt:     firstN(content, 300),
		Origin:      evidence.OriginDocument,
		Locator:     documentID,
		Credibility: 1.0,
		Relevance:   1.0,
	}

	return &Result{
		Status: StatusCompleted,
		Payload: SummaryPayload{
			DocumentID:  documentID,
			MainTopic:   summary.MainTopic,
			KeyConcepts: summary.KeyConcepts,
			StudyNotes:  summary.StudyNotes,
		},
		Evidence: []evidence.Item{sourceItem},
		Trace: []string{
			fmt.Sprintf("loaded document %s (%d chars)", documentID, len(content)),
			fmt.Sprintf("summarized into %d key concepts", len(summary.KeyConcepts)),
		},
	}, nil
}

// firstN truncates on a rune boundary so excerpts stay valid UTF-8.
func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
