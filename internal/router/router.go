package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/agent"
	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/metrics"
	"github.com/study-agent/backend/internal/session"
	"github.com/study-agent/backend/pkg/logger"
)

type classifier interface {
	Classify(ctx context.Context, query string, history []string) (intent.Intent, error)
}

// PersistSink fulfills a specialist's intent-to-persist after a successful
// turn. Both writes are best-effort; a failed persist degrades the trace,
// not the turn.
type PersistSink interface {
	PersistResearch(ctx context.Context, items []evidence.Item) error
	PersistDeck(ctx context.Context, payload agent.FlashcardPayload) (string, error)
}

// TurnAuditor records finalized turns for history queries.
type TurnAuditor interface {
	RecordTurn(ctx context.Context, sessionID string, turn session.Turn, latencyMS int) error
}

// ReferenceRecorder tracks which sources a session has cited.
type ReferenceRecorder interface {
	RecordCitations(ctx context.Context, sessionID, turnID string, citations []evidence.Citation) error
}

// Config carries the router's runtime policy.
type Config struct {
	SpecialistTimeout time.Duration
	RetryTransient    bool
}

// Router owns request orchestration: one classification, one specialist
// dispatch, one thread append per turn. It is the only writer to the
// thread store.
type Router struct {
	classifier  classifier
	specialists map[intent.Kind]agent.Specialist
	threads     session.Store
	audit       TurnAuditor
	references  ReferenceRecorder
	sink        PersistSink
	timeout     time.Duration
	retryOnce   bool
}

func New(c classifier, threads session.Store, cfg Config) *Router {
	timeout := cfg.SpecialistTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Router{
		classifier:  c,
		specialists: make(map[intent.Kind]agent.Specialist),
		threads:     threads,
		timeout:     timeout,
		retryOnce:   cfg.RetryTransient,
	}
}

// Register adds a specialist for its intent. Registering twice for one
// intent replaces the earlier entry.
func (r *Router) Register(s agent.Specialist) {
	r.specialists[s.Intent()] = s
}

// WithAudit attaches the turn audit recorder.
func (r *Router) WithAudit(a TurnAuditor) *Router {
	r.audit = a
	return r
}

// WithReferences attaches the citation reference recorder.
func (r *Router) WithReferences(recorder ReferenceRecorder) *Router {
	r.references = recorder
	return r
}

// WithPersistSink attaches the persistence collaborator.
func (r *Router) WithPersistSink(sink PersistSink) *Router {
	r.sink = sink
	return r
}

// Route handles one turn end to end and always returns an envelope. The
// thread append happens exactly once per accepted request, via defer, so no
// branch can skip it. Caller cancellation is appended as a cancelled turn.
func (r *Router) Route(ctx context.Context, sessionID, query string) *Envelope {
	start := time.Now()
	envelope := &Envelope{
		TaskID:    uuid.New().String(),
		SessionID: sessionID,
		Intent:    intent.Unknown.String(),
		Citations: []evidence.Citation{},
	}

	defer func() {
		envelope.LatencyMS = int(time.Since(start).Milliseconds())
		metrics.ObserveTurn(envelope.Intent, envelope.Success, envelope.errorKind(), time.Since(start))
	}()

	// Bad input is rejected before any session or classification work.
	if strings.TrimSpace(query) == "" {
		envelope.ReasoningTrace = append(envelope.ReasoningTrace, "rejected empty query before classification")
		return envelope.fail(ErrKindInvalidInput, "query must not be empty")
	}

	if err := r.threads.Acquire(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrBusy) {
			envelope.ReasoningTrace = append(envelope.ReasoningTrace,
				"a previous request for this session is still in flight")
			return envelope.fail(ErrKindSessionBusy, "session has a request in flight")
		}
		return envelope.fail(ErrKindSpecialistFailure, fmt.Sprintf("session store unavailable: %v", err))
	}
	defer r.threads.Release(context.WithoutCancel(ctx), sessionID)

	thread, err := r.threads.Ensure(ctx, sessionID)
	if err != nil {
		return envelope.fail(ErrKindSpecialistFailure, fmt.Sprintf("failed to load session thread: %v", err))
	}

	// From here the request has entered the turn cycle: the thread append
	// runs exactly once no matter which branch below returns.
	defer func() {
		r.finalize(ctx, sessionID, query, envelope, start)
	}()

	classified, err := r.classifier.Classify(ctx, query, thread.RecentContext(5))
	if err != nil {
		if errors.Is(err, intent.ErrEmptyQuery) {
			return envelope.fail(ErrKindInvalidInput, "query must not be empty")
		}
		return envelope.fail(ErrKindSpecialistFailure, fmt.Sprintf("classification failed: %v", err))
	}

	envelope.Intent = classified.Kind.String()
	metrics.ObserveClassification(classified.Kind.String(), classified.Confidence)
	envelope.ReasoningTrace = append(envelope.ReasoningTrace,
		fmt.Sprintf("classified intent %s (confidence %.2f)", classified.Kind, classified.Confidence))

	if classified.Kind == intent.Unknown {
		envelope.ReasoningTrace = append(envelope.ReasoningTrace,
			"intent unclear: "+classified.Reasoning,
			"please rephrase the request or name the document to work with")
		return envelope.fail(ErrKindAmbiguousIntent, "could not determine what you want to do; please clarify")
	}

	specialist, ok := r.specialists[classified.Kind]
	if !ok {
		return envelope.fail(ErrKindSpecialistFailure,
			fmt.Sprintf("no specialist registered for intent %s", classified.Kind))
	}

	task := agent.Task{
		ID:        envelope.TaskID,
		Intent:    classified.Kind,
		Query:     query,
		Params:    classified.Entities,
		SessionID: sessionID,
		CreatedAt: start,
	}

	result, err := r.invoke(ctx, specialist, task, envelope)
	if err != nil {
		return r.failEnvelope(envelope, err)
	}

	envelope.ReasoningTrace = append(envelope.ReasoningTrace, result.Trace...)

	citations := make([]evidence.Citation, 0, len(result.Evidence))
	for _, item := range result.Evidence {
		citations = append(citations, evidence.Cite(item))
	}

	if result.Status == agent.StatusRecoverableEmpty {
		envelope.ReasoningTrace = append(envelope.ReasoningTrace,
			"nothing found; this is an empty result, not a system failure")
	}

	envelope.succeed(result.Payload, citations)

	if result.Persist != nil {
		r.fulfillPersist(ctx, result.Persist, envelope)
	}

	return envelope
}

// invoke runs the specialist under the per-request budget, retrying once
// for transient failures when the specialist is idempotent.
func (r *Router) invoke(ctx context.Context, specialist agent.Specialist, task agent.Task, envelope *Envelope) (*agent.Result, error) {
	result, err := r.invokeOnce(ctx, specialist, task)
	if err == nil {
		return result, nil
	}

	if r.retryOnce && specialist.Idempotent() && agent.Transient(err) && ctx.Err() == nil {
		envelope.ReasoningTrace = append(envelope.ReasoningTrace,
			fmt.Sprintf("transient failure (%v); retrying once", err))
		metrics.ObserveRetry(task.Intent.String())

		result, retryErr := r.invokeOnce(ctx, specialist, task)
		if retryErr == nil {
			envelope.ReasoningTrace = append(envelope.ReasoningTrace, "retry succeeded")
			return result, nil
		}
		return nil, retryErr
	}

	return nil, err
}

func (r *Router) invokeOnce(ctx context.Context, specialist agent.Specialist, task agent.Task) (*agent.Result, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := specialist.Execute(invokeCtx, task)
	if err != nil {
		// Distinguish our budget expiring from the caller going away.
		if invokeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("specialist exceeded %s budget: %w", r.timeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	return result, nil
}

func (r *Router) failEnvelope(envelope *Envelope, err error) *Envelope {
	switch {
	case errors.Is(err, agent.ErrMissingParameter):
		return envelope.fail(ErrKindMissingParameter, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		envelope.ReasoningTrace = append(envelope.ReasoningTrace, "specialist did not finish within its budget")
		return envelope.fail(ErrKindTimeout, "the request took too long; please try again")
	default:
		// Cause preserved as a string for diagnostics, stack detail never
		// crosses the caller boundary.
		return envelope.fail(ErrKindSpecialistFailure, err.Error())
	}
}

func (r *Router) fulfillPersist(ctx context.Context, request *agent.PersistRequest, envelope *Envelope) {
	if r.sink == nil {
		envelope.ReasoningTrace = append(envelope.ReasoningTrace,
			"persistence requested but no persistence backend is configured")
		return
	}

	switch request.Kind {
	case "research_evidence":
		if err := r.sink.PersistResearch(ctx, request.Evidence); err != nil {
			logger.Warn("Failed to persist research evidence", zap.Error(err))
			envelope.ReasoningTrace = append(envelope.ReasoningTrace,
				"could not save findings to study materials")
			return
		}
		envelope.ReasoningTrace = append(envelope.ReasoningTrace,
			fmt.Sprintf("saved %d sources to study materials", len(request.Evidence)))
	case "flashcard_deck":
		payload, ok := request.Payload.(agent.FlashcardPayload)
		if !ok {
			logger.Warn("Unexpected deck payload type")
			return
		}
		deckID, err := r.sink.PersistDeck(ctx, payload)
		if err != nil {
			logger.Warn("Failed to persist flashcard deck", zap.Error(err))
			envelope.ReasoningTrace = append(envelope.ReasoningTrace, "could not save the generated deck")
			return
		}
		envelope.ReasoningTrace = append(envelope.ReasoningTrace,
			fmt.Sprintf("saved deck %s for later export", deckID))
	default:
		logger.Warn("Unknown persist request kind", zap.String("kind", request.Kind))
	}
}

// finalize appends the turn to the thread. A cancelled request is still
// appended, marked cancelled, over a fresh short-lived context so history
// stays consistent.
func (r *Router) finalize(ctx context.Context, sessionID, query string, envelope *Envelope, start time.Time) {
	cancelled := ctx.Err() != nil

	turn := session.Turn{
		TurnID:    envelope.TaskID,
		Query:     query,
		Intent:    envelope.Intent,
		Success:   envelope.Success,
		ErrorKind: envelope.errorKind(),
		Summary:   turnSummary(envelope),
		Cancelled: cancelled,
		Citations: envelope.Citations,
		CreatedAt: start,
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.threads.Append(appendCtx, sessionID, turn); err != nil {
		logger.Error("Failed to append turn to thread",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	latency := int(time.Since(start).Milliseconds())
	if r.audit != nil {
		if err := r.audit.RecordTurn(appendCtx, sessionID, turn, latency); err != nil {
			logger.Warn("Failed to record turn audit", zap.Error(err))
		}
	}

	if r.references != nil && len(envelope.Citations) > 0 {
		if err := r.references.RecordCitations(appendCtx, sessionID, turn.TurnID, envelope.Citations); err != nil {
			logger.Warn("Failed to record citation references", zap.Error(err))
		}
	}
}

func turnSummary(envelope *Envelope) string {
	if envelope.Error != nil {
		return envelope.Error.Kind + ": " + envelope.Error.Message
	}
	if len(envelope.ReasoningTrace) > 0 {
		return envelope.ReasoningTrace[len(envelope.ReasoningTrace)-1]
	}
	return "completed"
}
