package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/study-agent/backend/internal/agent"
	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/session"
	"github.com/study-agent/backend/internal/session/inmemory"
)

type fakeClassifier struct {
	result intent.Intent
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, query string, history []string) (intent.Intent, error) {
	f.calls++
	return f.result, f.err
}

type fakeSpecialist struct {
	kind       intent.Kind
	idempotent bool
	calls      int
	execute    func(call int) (*agent.Result, error)
}

func (f *fakeSpecialist) Intent() intent.Kind { return f.kind }
func (f *fakeSpecialist) Idempotent() bool    { return f.idempotent }
func (f *fakeSpecialist) Execute(ctx context.Context, task agent.Task) (*agent.Result, error) {
	f.calls++
	return f.execute(f.calls)
}

type fakeSink struct {
	researchCalls int
	deckCalls     int
	lastDeck      agent.FlashcardPayload
}

func (f *fakeSink) PersistResearch(ctx context.Context, items []evidence.Item) error {
	f.researchCalls++
	return nil
}

func (f *fakeSink) PersistDeck(ctx context.Context, payload agent.FlashcardPayload) (string, error) {
	f.deckCalls++
	f.lastDeck = payload
	return "deck-1", nil
}

func completedResult() *agent.Result {
	return &agent.Result{
		Status:  agent.StatusCompleted,
		Payload: agent.AnswerPayload{Answer: "photosynthesis converts light to chemical energy", PassagesUsed: 2},
		Evidence: []evidence.Item{
			{SourceID: "doc-1", Excerpt: "chloroplasts absorb light", Origin: evidence.OriginDocument, Locator: "doc-1#2", Credibility: 1.0, Relevance: 0.9},
		},
		Trace: []string{"answered from validated passages"},
	}
}

func newTestRouter(c classifier, store session.Store, specialists ...agent.Specialist) *Router {
	r := New(c, store, Config{SpecialistTimeout: 2 * time.Second, RetryTransient: true})
	for _, s := range specialists {
		r.Register(s)
	}
	return r
}

func TestRouteEmptyQuery(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{}
	r := newTestRouter(c, store)

	env := r.Route(context.Background(), "s1", "   ")

	if env.Success {
		t.Fatal("expected failure for empty query")
	}
	if env.Error == nil || env.Error.Kind != ErrKindInvalidInput {
		t.Fatalf("expected InvalidInput, got %+v", env.Error)
	}
	if c.calls != 0 {
		t.Fatalf("classifier should not run for empty query, got %d calls", c.calls)
	}

	thread, _ := store.Ensure(context.Background(), "s1")
	if len(thread.Turns) != 0 {
		t.Fatalf("rejected input must not enter the thread, got %d turns", len(thread.Turns))
	}
}

func TestRouteAmbiguousIntent(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.Unknown, Confidence: 0.3, Reasoning: "no clear task"}}
	spec := &fakeSpecialist{kind: intent.RAGQA, idempotent: true, execute: func(int) (*agent.Result, error) {
		return completedResult(), nil
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "hmm")

	if env.Success {
		t.Fatal("expected failure for unknown intent")
	}
	if env.Error.Kind != ErrKindAmbiguousIntent {
		t.Fatalf("expected AmbiguousIntent, got %s", env.Error.Kind)
	}
	if spec.calls != 0 {
		t.Fatal("no specialist may be dispatched for an unknown intent")
	}

	found := false
	for _, line := range env.ReasoningTrace {
		if line == "intent unclear: no clear task" {
			found = true
		}
	}
	if !found {
		t.Fatalf("trace should carry the classifier reasoning, got %v", env.ReasoningTrace)
	}
}

func TestRouteMissingParameter(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.Summarizer, Confidence: 0.9}}
	spec := &fakeSpecialist{kind: intent.Summarizer, idempotent: true, execute: func(int) (*agent.Result, error) {
		return nil, fmt.Errorf("%w: document_id", agent.ErrMissingParameter)
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "summarize chapter 3")

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Error.Kind != ErrKindMissingParameter {
		t.Fatalf("expected MissingParameter, got %s", env.Error.Kind)
	}
	if env.Content != nil {
		t.Fatal("failed envelope must carry no content")
	}
	if spec.calls != 1 {
		t.Fatalf("missing parameter is not retryable, got %d calls", spec.calls)
	}
}

func TestRouteSuccessAppendsOneTurn(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.RAGQA, Confidence: 0.92}}
	spec := &fakeSpecialist{kind: intent.RAGQA, idempotent: true, execute: func(int) (*agent.Result, error) {
		return completedResult(), nil
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "what is photosynthesis?")

	if !env.Success {
		t.Fatalf("expected success, got %+v", env.Error)
	}
	if env.Error != nil {
		t.Fatal("successful envelope must carry no error")
	}
	if len(env.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(env.Citations))
	}
	if env.Intent != "RAG_QA" {
		t.Fatalf("unexpected intent %s", env.Intent)
	}

	thread, _ := store.Ensure(context.Background(), "s1")
	if len(thread.Turns) != 1 {
		t.Fatalf("expected exactly one turn, got %d", len(thread.Turns))
	}
	turn := thread.Turns[0]
	if !turn.Success || turn.TurnID != env.TaskID {
		t.Fatalf("turn does not match envelope: %+v", turn)
	}
}

func TestRouteRepeatedRequestsAppendSeparateTurns(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.RAGQA, Confidence: 0.92}}
	spec := &fakeSpecialist{kind: intent.RAGQA, idempotent: true, execute: func(int) (*agent.Result, error) {
		return completedResult(), nil
	}}
	r := newTestRouter(c, store, spec)

	first := r.Route(context.Background(), "s1", "what is photosynthesis?")
	second := r.Route(context.Background(), "s1", "what is photosynthesis?")

	if first.TaskID == second.TaskID {
		t.Fatal("each request must get its own task id")
	}

	thread, _ := store.Ensure(context.Background(), "s1")
	if len(thread.Turns) != 2 {
		t.Fatalf("identical requests are separate turns, got %d", len(thread.Turns))
	}
}

func TestRouteRetriesTransientFailureOnce(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.Research, Confidence: 0.9}}
	spec := &fakeSpecialist{kind: intent.Research, idempotent: true, execute: func(call int) (*agent.Result, error) {
		if call == 1 {
			return nil, fmt.Errorf("%w: search timed out", agent.ErrUnavailable)
		}
		return completedResult(), nil
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "research spaced repetition")

	if !env.Success {
		t.Fatalf("retry should have recovered the turn, got %+v", env.Error)
	}
	if spec.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", spec.calls)
	}
	if len(env.Citations) != 1 {
		t.Fatalf("citations must come from the retried attempt, got %d", len(env.Citations))
	}

	thread, _ := store.Ensure(context.Background(), "s1")
	if len(thread.Turns) != 1 {
		t.Fatalf("retried request is still one turn, got %d", len(thread.Turns))
	}
}

func TestRouteNeverRetriesNonIdempotentSpecialist(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.Flashcard, Confidence: 0.9}}
	spec := &fakeSpecialist{kind: intent.Flashcard, idempotent: false, execute: func(int) (*agent.Result, error) {
		return nil, fmt.Errorf("%w: generation failed", agent.ErrUnavailable)
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "make flashcards from doc-1")

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Error.Kind != ErrKindSpecialistFailure {
		t.Fatalf("expected SpecialistFailure, got %s", env.Error.Kind)
	}
	if spec.calls != 1 {
		t.Fatalf("non-idempotent specialists must not be retried, got %d calls", spec.calls)
	}
}

func TestRouteSessionBusy(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.RAGQA, Confidence: 0.9}}
	r := newTestRouter(c, store)

	if err := store.Acquire(context.Background(), "s1"); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	env := r.Route(context.Background(), "s1", "what is photosynthesis?")

	if env.Success {
		t.Fatal("expected rejection while the session is busy")
	}
	if env.Error.Kind != ErrKindSessionBusy {
		t.Fatalf("expected SessionBusy, got %s", env.Error.Kind)
	}
	if c.calls != 0 {
		t.Fatal("busy sessions must be rejected before classification")
	}

	thread, _ := store.Ensure(context.Background(), "s1")
	if len(thread.Turns) != 0 {
		t.Fatal("rejected request must not produce a turn")
	}
}

func TestRouteRecoverableEmptyIsSuccess(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.RAGQA, Confidence: 0.9}}
	spec := &fakeSpecialist{kind: intent.RAGQA, idempotent: true, execute: func(int) (*agent.Result, error) {
		return &agent.Result{
			Status:  agent.StatusRecoverableEmpty,
			Payload: agent.AnswerPayload{InsufficientContext: true},
			Trace:   []string{"no validated passages; declining to answer from model knowledge"},
		}, nil
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "what does chapter 99 say?")

	if !env.Success {
		t.Fatalf("empty result is not a failure, got %+v", env.Error)
	}
	payload, ok := env.Content.(agent.AnswerPayload)
	if !ok || !payload.InsufficientContext {
		t.Fatalf("expected insufficient-context payload, got %+v", env.Content)
	}
	if len(env.Citations) != 0 {
		t.Fatal("empty result carries no citations")
	}
}

func TestRouteTimeout(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.Research, Confidence: 0.9}}
	spec := &fakeSpecialist{kind: intent.Research, idempotent: true}
	spec.execute = func(int) (*agent.Result, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, context.DeadlineExceeded
	}
	r := New(c, store, Config{SpecialistTimeout: 10 * time.Millisecond, RetryTransient: false})
	r.Register(spec)

	env := r.Route(context.Background(), "s1", "research something slow")

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Error.Kind != ErrKindTimeout {
		t.Fatalf("expected Timeout, got %s: %s", env.Error.Kind, env.Error.Message)
	}
}

func TestRouteFulfillsDeckPersist(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.Flashcard, Confidence: 0.9}}
	payload := agent.FlashcardPayload{
		DocumentID: "doc-1",
		Difficulty: "medium",
		Cards:      []agent.Card{{ID: "c1", Type: agent.CardTypeBasic, Front: "f", Back: "b", Difficulty: "medium"}},
	}
	spec := &fakeSpecialist{kind: intent.Flashcard, idempotent: false, execute: func(int) (*agent.Result, error) {
		return &agent.Result{
			Status:  agent.StatusCompleted,
			Payload: payload,
			Persist: &agent.PersistRequest{Kind: "flashcard_deck", Payload: payload},
		}, nil
	}}
	sink := &fakeSink{}
	r := newTestRouter(c, store, spec)
	r.WithPersistSink(sink)

	env := r.Route(context.Background(), "s1", "make flashcards from doc-1")

	if !env.Success {
		t.Fatalf("expected success, got %+v", env.Error)
	}
	if sink.deckCalls != 1 {
		t.Fatalf("expected one deck persist, got %d", sink.deckCalls)
	}
	if sink.lastDeck.DocumentID != "doc-1" {
		t.Fatalf("unexpected deck payload: %+v", sink.lastDeck)
	}
}

func TestRouteCancelledRequestStillAppendsTurn(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{result: intent.Intent{Kind: intent.RAGQA, Confidence: 0.9}}
	ctx, cancel := context.WithCancel(context.Background())
	spec := &fakeSpecialist{kind: intent.RAGQA, idempotent: false, execute: func(int) (*agent.Result, error) {
		cancel()
		return nil, ctx.Err()
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(ctx, "s1", "what is photosynthesis?")

	if env.Success {
		t.Fatal("expected failure for cancelled request")
	}

	thread, _ := store.Ensure(context.Background(), "s1")
	if len(thread.Turns) != 1 {
		t.Fatalf("cancelled turns are still recorded, got %d", len(thread.Turns))
	}
	if !thread.Turns[0].Cancelled {
		t.Fatal("turn should be marked cancelled")
	}
}

func TestRouteClassifierErrorDoesNotDispatch(t *testing.T) {
	store := inmemory.NewStore()
	c := &fakeClassifier{err: errors.New("model exploded")}
	spec := &fakeSpecialist{kind: intent.RAGQA, idempotent: true, execute: func(int) (*agent.Result, error) {
		return completedResult(), nil
	}}
	r := newTestRouter(c, store, spec)

	env := r.Route(context.Background(), "s1", "what is photosynthesis?")

	if env.Success {
		t.Fatal("expected failure")
	}
	if spec.calls != 0 {
		t.Fatal("specialist must not run when classification fails")
	}
}
