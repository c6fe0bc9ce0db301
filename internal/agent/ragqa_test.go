package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
)

type fakeRetriever struct {
	items []evidence.Item
	err   error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int, documentID string) ([]evidence.Item, error) {
	return f.items, f.err
}

type fakeAnswerer struct {
	answer string
	err    error
}

func (f *fakeAnswerer) AnswerFromPassages(ctx context.Context, query string, passages []string) (string, error) {
	return f.answer, f.err
}

type passthroughValidator struct{}

func (passthroughValidator) Validate(items []evidence.Item, minCredibility, minRelevance float64) []evidence.Item {
	kept := make([]evidence.Item, 0, len(items))
	for _, item := range items {
		if item.Credibility >= minCredibility && item.Relevance >= minRelevance {
			kept = append(kept, item)
		}
	}
	return kept
}

func qaTask(query string) Task {
	return Task{ID: "t1", Intent: intent.RAGQA, Query: query, SessionID: "s1"}
}

func TestRAGQAEmptyQuery(t *testing.T) {
	a := NewRAGQAAgent(&fakeRetriever{}, passthroughValidator{}, &fakeAnswerer{}, 0.5, 0.5)

	_, err := a.Execute(context.Background(), qaTask(""))
	if !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("expected ErrMissingParameter, got %v", err)
	}
}

func TestRAGQAInsufficientContext(t *testing.T) {
	retriever := &fakeRetriever{items: []evidence.Item{
		{SourceID: "chunk-1", Excerpt: "unrelated text", Credibility: 0.9, Relevance: 0.1},
	}}
	answerer := &fakeAnswerer{answer: "should never be called"}
	a := NewRAGQAAgent(retriever, passthroughValidator{}, answerer, 0.5, 0.5)

	result, err := a.Execute(context.Background(), qaTask("what is the krebs cycle?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRecoverableEmpty {
		t.Fatalf("expected recoverable empty, got %s", result.Status)
	}

	payload := result.Payload.(AnswerPayload)
	if !payload.InsufficientContext {
		t.Fatal("payload should flag insufficient context")
	}
	if payload.Answer != "" {
		t.Fatal("no answer may be fabricated without validated passages")
	}
}

func TestRAGQAAnswersFromValidatedPassagesOnly(t *testing.T) {
	retriever := &fakeRetriever{items: []evidence.Item{
		{SourceID: "chunk-1", Excerpt: "relevant passage", Credibility: 0.9, Relevance: 0.9},
		{SourceID: "chunk-2", Excerpt: "weak passage", Credibility: 0.9, Relevance: 0.2},
	}}
	answerer := &fakeAnswerer{answer: "the cycle produces NADH"}
	a := NewRAGQAAgent(retriever, passthroughValidator{}, answerer, 0.5, 0.5)

	result, err := a.Execute(context.Background(), qaTask("what does the cycle produce?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := result.Payload.(AnswerPayload)
	if payload.PassagesUsed != 1 {
		t.Fatalf("only the validated passage may be used, got %d", payload.PassagesUsed)
	}
	if len(result.Evidence) != 1 || result.Evidence[0].SourceID != "chunk-1" {
		t.Fatalf("evidence must be the validated passages, got %+v", result.Evidence)
	}
}

func TestRAGQARetrievalFailureIsTransient(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("index unreachable")}
	a := NewRAGQAAgent(retriever, passthroughValidator{}, &fakeAnswerer{}, 0.5, 0.5)

	_, err := a.Execute(context.Background(), qaTask("anything"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
