package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
)

type fakeSearcher struct {
	items []evidence.Item
	err   error
	query string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]evidence.Item, error) {
	f.query = query
	return f.items, f.err
}

type fakeSynthesizer struct {
	synthesis string
	err       error
	sources   []string
}

func (f *fakeSynthesizer) SynthesizeResearch(ctx context.Context, query string, sources []string) (string, error) {
	f.sources = sources
	return f.synthesis, f.err
}

func researchTask(query string, params map[string]string) Task {
	return Task{ID: "t1", Intent: intent.Research, Query: query, Params: params, SessionID: "s1"}
}

func webItem(id string, credibility, relevance float64) evidence.Item {
	return evidence.Item{
		SourceID:    id,
		Title:       "Source " + id,
		Excerpt:     "excerpt for " + id,
		Origin:      evidence.OriginWeb,
		Locator:     "https://example.edu/" + id,
		Credibility: credibility,
		Relevance:   relevance,
	}
}

func TestResearchNoCredibleSourcesIsRecoverable(t *testing.T) {
	searcher := &fakeSearcher{items: []evidence.Item{webItem("a", 0.2, 0.9)}}
	a := NewResearchAgent(searcher, passthroughValidator{}, &fakeSynthesizer{}, 0.5, 0.5)

	result, err := a.Execute(context.Background(), researchTask("research study techniques", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusRecoverableEmpty {
		t.Fatalf("expected recoverable empty, got %s", result.Status)
	}

	payload := result.Payload.(ResearchPayload)
	if !payload.NothingFound {
		t.Fatal("payload should flag that nothing was found")
	}
}

func TestResearchSynthesizesValidatedSourcesOnly(t *testing.T) {
	searcher := &fakeSearcher{items: []evidence.Item{
		webItem("a", 0.9, 0.9),
		webItem("b", 0.2, 0.9),
		webItem("c", 0.8, 0.8),
	}}
	synth := &fakeSynthesizer{synthesis: "spaced repetition beats cramming"}
	a := NewResearchAgent(searcher, passthroughValidator{}, synth, 0.5, 0.5)

	result, err := a.Execute(context.Background(), researchTask("research spaced repetition", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := result.Payload.(ResearchPayload)
	if payload.SourcesUsed != 2 {
		t.Fatalf("expected 2 validated sources, got %d", payload.SourcesUsed)
	}
	if len(synth.sources) != 2 {
		t.Fatalf("synthesis must only see validated sources, got %d", len(synth.sources))
	}
	if len(result.Evidence) != 2 {
		t.Fatalf("evidence must be the validated sources, got %d", len(result.Evidence))
	}
}

func TestResearchTopicEntityOverridesQuery(t *testing.T) {
	searcher := &fakeSearcher{items: []evidence.Item{webItem("a", 0.9, 0.9)}}
	a := NewResearchAgent(searcher, passthroughValidator{}, &fakeSynthesizer{synthesis: "ok"}, 0.5, 0.5)

	_, err := a.Execute(context.Background(), researchTask(
		"can you look up more about this?",
		map[string]string{"topic": "photosynthesis"},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.query != "photosynthesis" {
		t.Fatalf("search should use the extracted topic, got %q", searcher.query)
	}
}

func TestResearchSaveRequestSignalsPersist(t *testing.T) {
	searcher := &fakeSearcher{items: []evidence.Item{webItem("a", 0.9, 0.9)}}
	a := NewResearchAgent(searcher, passthroughValidator{}, &fakeSynthesizer{synthesis: "ok"}, 0.5, 0.5)

	result, err := a.Execute(context.Background(), researchTask("research flashcards and save the results", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Persist == nil || result.Persist.Kind != "research_evidence" {
		t.Fatalf("expected a research persist request, got %+v", result.Persist)
	}
	if len(result.Persist.Evidence) != 1 {
		t.Fatalf("persist request should carry the validated sources, got %d", len(result.Persist.Evidence))
	}
}

func TestResearchWithoutSaveDoesNotPersist(t *testing.T) {
	searcher := &fakeSearcher{items: []evidence.Item{webItem("a", 0.9, 0.9)}}
	a := NewResearchAgent(searcher, passthroughValidator{}, &fakeSynthesizer{synthesis: "ok"}, 0.5, 0.5)

	result, err := a.Execute(context.Background(), researchTask("research flashcards", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Persist != nil {
		t.Fatal("persistence is opt-in per turn")
	}
}

func TestResearchSearchFailurePropagates(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("serpapi unreachable")}
	a := NewResearchAgent(searcher, passthroughValidator{}, &fakeSynthesizer{}, 0.5, 0.5)

	_, err := a.Execute(context.Background(), researchTask("research anything", nil))
	if err == nil {
		t.Fatal("expected an error")
	}
}
