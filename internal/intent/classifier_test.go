package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/study-agent/backend/internal/llm"
)

type fakeGenerator struct {
	prediction *llm.IntentPrediction
	err        error
}

func (f *fakeGenerator) ClassifyIntent(ctx context.Context, query string, history []string) (*llm.IntentPrediction, error) {
	return f.prediction, f.err
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := NewClassifier(&fakeGenerator{}, 0.5)

	for _, query := range []string{"", "   ", "\n\t"} {
		if _, err := c.Classify(context.Background(), query, nil); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("query %q: expected ErrEmptyQuery, got %v", query, err)
		}
	}
}

func TestClassifyReturnsClosedSet(t *testing.T) {
	tests := []struct {
		label string
		want  Kind
	}{
		{"SUMMARIZER", Summarizer},
		{"RAG_QA", RAGQA},
		{"RESEARCH", Research},
		{"FLASHCARD", Flashcard},
		{"SOMETHING_ELSE", Unknown},
	}

	for _, tt := range tests {
		g := &fakeGenerator{prediction: &llm.IntentPrediction{Intent: tt.label, Confidence: 0.9}}
		c := NewClassifier(g, 0.5)

		result, err := c.Classify(context.Background(), "some query", nil)
		if err != nil {
			t.Fatalf("label %s: unexpected error: %v", tt.label, err)
		}
		if result.Kind != tt.want {
			t.Errorf("label %s: expected %v, got %v", tt.label, tt.want, result.Kind)
		}
		if result.Confidence < 0 || result.Confidence > 1 {
			t.Errorf("label %s: confidence %f out of range", tt.label, result.Confidence)
		}
	}
}

func TestClassifyBelowFloorReturnsUnknown(t *testing.T) {
	g := &fakeGenerator{prediction: &llm.IntentPrediction{Intent: "RAG_QA", Confidence: 0.4}}
	c := NewClassifier(g, 0.5)

	result, err := c.Classify(context.Background(), "hmm", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != Unknown {
		t.Errorf("expected Unknown below confidence floor, got %v", result.Kind)
	}
	if result.Reasoning == "" {
		t.Error("unknown result should carry reasoning for the clarify message")
	}
}

func TestClassifyConfidenceClamped(t *testing.T) {
	g := &fakeGenerator{prediction: &llm.IntentPrediction{Intent: "RESEARCH", Confidence: 1.7}}
	c := NewClassifier(g, 0.5)

	result, err := c.Classify(context.Background(), "research black holes", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %f", result.Confidence)
	}
}

func TestClassifyFallsBackOnModelFailure(t *testing.T) {
	g := &fakeGenerator{err: errors.New("model unreachable")}
	c := NewClassifier(g, 0.5)

	result, err := c.Classify(context.Background(), "Can you summarize chapter 3?", nil)
	if err != nil {
		t.Fatalf("model failure must resolve locally, got error: %v", err)
	}
	if result.Kind != Summarizer {
		t.Errorf("expected SUMMARIZER from keyword fallback, got %v", result.Kind)
	}
	if result.Confidence < 0.7 {
		t.Errorf("expected confidence >= 0.7, got %f", result.Confidence)
	}
	if _, ok := result.Entities["document_id"]; ok {
		t.Error("chapter reference alone must not produce a document_id entity")
	}
}

func TestClassifyFiltersForeignEntities(t *testing.T) {
	g := &fakeGenerator{prediction: &llm.IntentPrediction{
		Intent:     "RESEARCH",
		Confidence: 0.9,
		Entities: map[string]string{
			"topic":      "photosynthesis",
			"card_count": "5", // belongs to FLASHCARD, must not leak
		},
	}}
	c := NewClassifier(g, 0.5)

	result, err := c.Classify(context.Background(), "research photosynthesis", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entities["topic"] != "photosynthesis" {
		t.Errorf("expected topic entity kept, got %v", result.Entities)
	}
	if _, ok := result.Entities["card_count"]; ok {
		t.Error("entities from other intents must be dropped")
	}
}

func TestKeywordFallbackCoversAllSpecialists(t *testing.T) {
	g := &fakeGenerator{err: errors.New("down")}
	c := NewClassifier(g, 0.5)

	tests := map[string]Kind{
		"give me an overview of the lecture notes": Summarizer,
		"look up recent studies on memory":         Research,
		"make flashcards from my biology notes":    Flashcard,
		"what is cellular respiration?":            RAGQA,
	}

	for query, want := range tests {
		result, err := c.Classify(context.Background(), query, nil)
		if err != nil {
			t.Fatalf("query %q: unexpected error: %v", query, err)
		}
		if result.Kind != want {
			t.Errorf("query %q: expected %v, got %v", query, want, result.Kind)
		}
	}
}
