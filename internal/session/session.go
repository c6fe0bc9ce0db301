package session

import (
	"context"
	"errors"
	"time"

	"github.com/study-agent/backend/internal/evidence"
)

// ErrBusy is returned by Acquire when the session already has a request in
// flight. Turns within a session are never interleaved.
var ErrBusy = errors.New("session has a request in flight")

// Turn is one completed request/response cycle. The envelope itself is not
// stored; Summary carries a short caller-visible digest.
type Turn struct {
	TurnID    string              `json:"turn_id"`
	Query     string              `json:"query"`
	Intent    string              `json:"intent"`
	Success   bool                `json:"success"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Summary   string              `json:"summary"`
	Cancelled bool                `json:"cancelled,omitempty"`
	Citations []evidence.Citation `json:"citations,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Thread is the conversational state for one session. It is mutated only by
// the router's finalize step, via Store.Append; specialists read it through
// the history the router hands them.
type Thread struct {
	SessionID     string              `json:"session_id"`
	Turns         []Turn              `json:"turns"`
	LastCitations []evidence.Citation `json:"last_citations,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// RecentContext renders the last n turns as short lines for classifier
// context.
func (t *Thread) RecentContext(n int) []string {
	if t == nil || len(t.Turns) == 0 {
		return nil
	}
	start := len(t.Turns) - n
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, len(t.Turns)-start)
	for _, turn := range t.Turns[start:] {
		lines = append(lines, turn.Intent+": "+turn.Query)
	}
	return lines
}

// Store keeps threads keyed by session id. Append must preserve the order
// turns were finalized in; Acquire/Release implement the single-writer-per-
// session guard.
type Store interface {
	// Ensure loads the thread for a session, creating it on first use.
	Ensure(ctx context.Context, sessionID string) (*Thread, error)

	// Append adds a finalized turn and updates the thread's last citations
	// when the turn produced any.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Acquire reserves the session for one in-flight request. Returns
	// ErrBusy when another request holds it.
	Acquire(ctx context.Context, sessionID string) error

	// Release frees a previously acquired session.
	Release(ctx context.Context, sessionID string) error
}
