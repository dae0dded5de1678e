package pipeline

import (
	"context"
	"sync"
)

// Session owns at most one active configuration and one pipeline instance.
// Submitting a new configuration reinitializes the session wholesale; there
// is no incremental reconfiguration. The mutex plus initializing flag guard
// the surface against overlapping Configure/Answer calls.
type Session struct {
	mu           sync.Mutex
	deps         Deps
	pipe         *Pipeline
	initializing bool
}

func NewSession(deps Deps) *Session {
	return &Session{deps: deps}
}

// Configure replaces the session's pipeline with a fresh one bound to cfg and
// runs the slow initialization (provider handles, ingestion, chain build).
// On failure the session is left not ready; resubmitting the configuration
// retries from scratch.
func (s *Session) Configure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	if s.initializing {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.pipe != nil {
		s.pipe.releaseHandles()
	}
	pipe := New(s.deps)
	pipe.Configure(cfg)
	s.pipe = pipe
	s.initializing = true
	s.mu.Unlock()

	err := pipe.Initialize(ctx)

	s.mu.Lock()
	s.initializing = false
	s.mu.Unlock()
	return err
}

func (s *Session) current() (*Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initializing {
		return nil, ErrBusy
	}
	if s.pipe == nil || !s.pipe.Ready() {
		return nil, ErrNotReady
	}
	return s.pipe, nil
}

func (s *Session) Answer(ctx context.Context, question string) (string, error) {
	pipe, err := s.current()
	if err != nil {
		return "", err
	}
	return pipe.Answer(ctx, question)
}

func (s *Session) AnswerStream(ctx context.Context, question string) (*Stream, error) {
	pipe, err := s.current()
	if err != nil {
		return nil, err
	}
	return pipe.AnswerStream(ctx, question)
}
