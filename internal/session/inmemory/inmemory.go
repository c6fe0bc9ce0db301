package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/study-agent/backend/internal/session"
)

// Store is the default thread store. Threads live for the process lifetime;
// expiry is an external concern.
type Store struct {
	mu       sync.Mutex
	threads  map[string]*session.Thread
	inFlight map[string]bool
}

func NewStore() *Store {
	return &Store{
		threads:  make(map[string]*session.Thread),
		inFlight: make(map[string]bool),
	}
}

func (s *Store) Ensure(ctx context.Context, sessionID string) (*session.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[sessionID]
	if !ok {
		thread = &session.Thread{
			SessionID: sessionID,
			CreatedAt: time.Now(),
		}
		s.threads[sessionID] = thread
	}

	return copyThread(thread), nil
}

func (s *Store) Append(ctx context.Context, sessionID string, turn session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[sessionID]
	if !ok {
		thread = &session.Thread{
			SessionID: sessionID,
			CreatedAt: time.Now(),
		}
		s.threads[sessionID] = thread
	}

	thread.Turns = append(thread.Turns, turn)
	if len(turn.Citations) > 0 {
		thread.LastCitations = turn.Citations
	}

	return nil
}

func (s *Store) Acquire(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[sessionID] {
		return session.ErrBusy
	}
	s.inFlight[sessionID] = true
	return nil
}

func (s *Store) Release(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, sessionID)
	return nil
}

// copyThread returns a snapshot so callers cannot mutate stored state.
func copyThread(t *session.Thread) *session.Thread {
	snapshot := &session.Thread{
		SessionID: t.SessionID,
		CreatedAt: t.CreatedAt,
	}
	snapshot.Turns = append(snapshot.Turns, t.Turns...)
	snapshot.LastCitations = append(snapshot.LastCitations, t.LastCitations...)
	return snapshot
}
