package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/llm"
)

type fakeDocs struct {
	content map[string]string
	err     error
}

func (f *fakeDocs) GetContent(ctx context.Context, documentID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content[documentID], nil
}

type fakeSummarizer struct {
	summary *llm.StudySummary
	err     error
}

func (f *fakeSummarizer) SummarizeDocument(ctx context.Context, content string) (*llm.StudySummary, error) {
	return f.summary, f.err
}

func summaryTask(params map[string]string) Task {
	return Task{
		ID:        "t1",
		Intent:    intent.Summarizer,
		Query:     "summarize my notes",
		Params:    params,
		SessionID: "s1",
	}
}

func TestSummarizerMissingDocumentID(t *testing.T) {
	a := NewSummarizerAgent(&fakeDocs{}, &fakeSummarizer{})

	_, err := a.Execute(context.Background(), summaryTask(nil))
	if !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("expected ErrMissingParameter, got %v", err)
	}
}

func TestSummarizerEmptyDocumentIsRecoverable(t *testing.T) {
	a := NewSummarizerAgent(&fakeDocs{content: map[string]string{}}, &fakeSummarizer{})

	result, err := a.Execute(context.Background(), summaryTask(map[string]string{"document_id": "missing"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRecoverableEmpty {
		t.Fatalf("expected recoverable empty, got %s", result.Status)
	}
	if len(result.Evidence) != 0 {
		t.Fatal("empty result must carry no evidence")
	}
}

func TestSummarizerCitesSourceDocument(t *testing.T) {
	docs := &fakeDocs{content: map[string]string{
		"doc-1": "Mitochondria are the powerhouse of the cell. They produce ATP through respiration.",
	}}
	gen := &fakeSummarizer{summary: &llm.StudySummary{
		MainTopic:   "Cell biology",
		KeyConcepts: []string{"mitochondria", "ATP"},
		StudyNotes:  "Mitochondria generate the cell's energy.",
	}}
	a := NewSummarizerAgent(docs, gen)

	result, err := a.Execute(context.Background(), summaryTask(map[string]string{"document_id": "doc-1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	payload, ok := result.Payload.(SummaryPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", result.Payload)
	}
	if payload.MainTopic != "Cell biology" || len(payload.KeyConcepts) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if len(result.Evidence) != 1 || result.Evidence[0].SourceID != "doc-1" {
		t.Fatalf("summary must cite exactly its source document, got %+v", result.Evidence)
	}
}

func TestFirstNKeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{"shorter than limit", "short", 10, "short"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"multibyte straddles limit", "abécd", 3, "ab"},
		{"cjk straddles limit", "日本語", 4, "日"},
		{"exact rune boundary", "日本", 3, "日"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := firstN(tc.s, tc.n)
			if got != tc.want {
				t.Fatalf("firstN(%q, %d) = %q, want %q", tc.s, tc.n, got, tc.want)
			}
		})
	}
}

func TestSummarizerWrapsLoadFailureAsUnavailable(t *testing.T) {
	a := NewSummarizerAgent(&fakeDocs{err: errors.New("connection refused")}, &fakeSummarizer{})

	_, err := a.Execute(context.Background(), summaryTask(map[string]string{"document_id": "doc-1"}))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !Transient(err) {
		t.Fatal("load failure should be eligible for a retry")
	}
}
