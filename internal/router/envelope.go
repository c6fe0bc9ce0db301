package router

import (
	"github.com/study-agent/backend/internal/evidence"
)

// Error kinds are stable strings callers can branch on.
const (
	ErrKindInvalidInput      = "InvalidInput"
	ErrKindAmbiguousIntent   = "AmbiguousIntent"
	ErrKindMissingParameter  = "MissingParameter"
	ErrKindTimeout           = "Timeout"
	ErrKindSpecialistFailure = "SpecialistFailure"
	ErrKindSessionBusy       = "SessionBusy"
)

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is the one shape every specialist's output is normalized into.
// success=false implies Content is nil and Error is set; success=true
// implies Error is nil. Never mutated after return.
type Envelope struct {
	TaskID         string              `json:"task_id"`
	SessionID      string              `json:"session_id"`
	Intent         string              `json:"intent"`
	Success        bool                `json:"success"`
	Content        interface{}         `json:"content,omitempty"`
	Citations      []evidence.Citation `json:"citations"`
	ReasoningTrace []string            `json:"reasoning_trace"`
	Error          *ErrorDetail        `json:"error,omitempty"`
	LatencyMS      int                 `json:"latency_ms"`
}

func (e *Envelope) fail(kind, message string) *Envelope {
	e.Success = false
	e.Content = nil
	e.Error = &ErrorDetail{Kind: kind, Message: message}
	return e
}

func (e *Envelope) succeed(content interface{}, citations []evidence.Citation) *Envelope {
	e.Success = true
	e.Content = content
	e.Citations = citations
	e.Error = nil
	return e
}

// errorKind returns the stable kind string, or "" for successful envelopes.
func (e *Envelope) errorKind() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Kind
}
