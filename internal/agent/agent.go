package agent

import (
	"context"
	"errors"
	"time"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
)

// Sentinel errors specialists report upward. The router translates these
// into envelope error kinds; raw external-service errors never cross the
// caller boundary.
var (
	// ErrMissingParameter marks a task missing a required field. Wrapped
	// errors carry the field name.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrUnavailable marks a network-class dependency failure. It is the
	// only failure the router may retry, and only once.
	ErrUnavailable = errors.New("external dependency unavailable")
)

// Status is the terminal state of one specialist invocation. A specialist
// moves Pending -> Running -> terminal exactly once and never retries
// itself; the router owns the single permitted automatic retry.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusRecoverableEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusRecoverableEmpty:
		return "recoverable_empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is the unit of work handed to exactly one specialist. The router
// owns it for its lifetime; Intent is never Unknown by the time a task
// reaches a specialist.
type Task struct {
	ID        string
	Intent    intent.Kind
	Query     string
	Params    map[string]string
	SessionID string
	CreatedAt time.Time
}

// Param returns a task parameter and whether it was extracted.
func (t Task) Param(name string) (string, bool) {
	v, ok := t.Params[name]
	return v, ok
}

// PersistRequest is a specialist's intent to persist something as a side
// effect. The specialist never performs the write itself; the router hands
// the request to the persistence collaborator after a successful turn.
type PersistRequest struct {
	Kind     string // "research_evidence" or "flashcard_deck"
	Payload  interface{}
	Evidence []evidence.Item
}

// Result is the normalized output of a specialist invocation.
// StatusRecoverableEmpty means "nothing found", which is a legitimate
// outcome, not a failure.
type Result struct {
	Status   Status
	Payload  interface{}
	Evidence []evidence.Item
	Trace    []string
	Persist  *PersistRequest
}

// Specialist fulfills one intent end-to-end. Execute returns a non-nil
// error only for failures; recoverable-empty outcomes come back as a
// Result. Idempotent reports whether the router may retry a transient
// failure (false for specialists with persistence side effects).
type Specialist interface {
	Intent() intent.Kind
	Idempotent() bool
	Execute(ctx context.Context, task Task) (*Result, error)
}

// Transient reports whether err is a network-class failure eligible for
// the router's single automatic retry.
func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
