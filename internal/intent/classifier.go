package intent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/llm"
	"github.com/study-agent/backend/pkg/logger"
)

// ErrEmptyQuery rejects blank input before any classification work.
var ErrEmptyQuery = errors.New("query is empty")

type generator interface {
	ClassifyIntent(ctx context.Context, query string, history []string) (*llm.IntentPrediction, error)
}

// Classifier maps free text to exactly one intent. The model call is the
// only I/O; a model failure falls back to keyword rules so classification
// errors always resolve locally.
type Classifier struct {
	llm             generator
	confidenceFloor float64
}

func NewClassifier(g generator, confidenceFloor float64) *Classifier {
	if confidenceFloor <= 0 {
		confidenceFloor = 0.5
	}
	return &Classifier{
		llm:             g,
		confidenceFloor: confidenceFloor,
	}
}

// Classify returns a single best intent with confidence in [0,1]. Below the
// confidence floor it returns Unknown rather than guessing; the router
// treats Unknown as a clarify outcome, not an error.
func (c *Classifier) Classify(ctx context.Context, query string, history []string) (Intent, error) {
	if strings.TrimSpace(query) == "" {
		return Intent{}, ErrEmptyQuery
	}

	prediction, err := c.llm.ClassifyIntent(ctx, query, history)
	if err != nil {
		logger.Warn("Model classification failed, using keyword rules", zap.Error(err))
		prediction = classifyByKeywords(query)
	}

	kind := ParseKind(prediction.Intent)
	confidence := clamp01(prediction.Confidence)

	if kind == Unknown || confidence < c.confidenceFloor {
		reasoning := prediction.Reasoning
		if reasoning == "" {
			reasoning = "no intent reached the confidence floor"
		}
		return Intent{
			Kind:       Unknown,
			Confidence: confidence,
			Reasoning:  reasoning,
		}, nil
	}

	return Intent{
		Kind:       kind,
		Confidence: confidence,
		Entities:   filterEntities(kind, prediction.Entities),
		Reasoning:  prediction.Reasoning,
	}, nil
}

// classifyByKeywords is the deterministic fallback. Rules mirror what
// students actually type; the default for document questions is RAG_QA.
func classifyByKeywords(query string) *llm.IntentPrediction {
	lower := strings.ToLower(query)

	summarize := []string{"summarize", "summary", "main points", "overview", "key concepts"}
	for _, kw := range summarize {
		if strings.Contains(lower, kw) {
			return &llm.IntentPrediction{
				Intent:     Summarizer.String(),
				Confidence: 0.9,
				Reasoning:  "query contains summarization keywords",
			}
		}
	}

	research := []string{"research", "find information", "look up", "web search", "search online", "latest"}
	for _, kw := range research {
		if strings.Contains(lower, kw) {
			return &llm.IntentPrediction{
				Intent:     Research.String(),
				Confidence: 0.85,
				Reasoning:  "query requests external information lookup",
			}
		}
	}

	flashcard := []string{"flashcard", "flash card", "quiz", "test me", "study cards", "anki", "memorize"}
	for _, kw := range flashcard {
		if strings.Contains(lower, kw) {
			return &llm.IntentPrediction{
				Intent:     Flashcard.String(),
				Confidence: 0.85,
				Reasoning:  "query requests study card creation",
			}
		}
	}

	if strings.Contains(lower, "?") || strings.HasPrefix(lower, "what") ||
		strings.HasPrefix(lower, "how") || strings.HasPrefix(lower, "why") ||
		strings.HasPrefix(lower, "explain") {
		return &llm.IntentPrediction{
			Intent:     RAGQA.String(),
			Confidence: 0.75,
			Reasoning:  "question form defaults to document Q&A",
		}
	}

	return &llm.IntentPrediction{
		Intent:     Unknown.String(),
		Confidence: 0.3,
		Reasoning:  "no routing keywords matched",
	}
}

// filterEntities keeps only the entities meaningful for the chosen intent.
// A secondary intent's entities never leak through.
func filterEntities(kind Kind, entities map[string]string) map[string]string {
	if len(entities) == 0 {
		return nil
	}

	var allowed []string
	switch kind {
	case Summarizer:
		allowed = []string{"document_id", "topic"}
	case RAGQA:
		allowed = []string{"document_id", "topic"}
	case Research:
		allowed = []string{"topic"}
	case Flashcard:
		allowed = []string{"document_id", "card_count", "difficulty", "topic"}
	default:
		return nil
	}

	filtered := make(map[string]string)
	for _, key := range allowed {
		if v, ok := entities[key]; ok && v != "" {
			filtered[key] = v
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
