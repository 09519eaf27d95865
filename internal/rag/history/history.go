// Package history keeps per-session conversation turns.
package history

import (
	"context"
	"sync"

	"github.com/kart-io/sentinel-rag/internal/model"
)

// Store persists conversation history keyed by session id.
// Get on an unknown session returns an empty history, not an error.
type Store interface {
	Get(ctx context.Context, sessionID string) ([]model.Message, error)
	Append(ctx context.Context, sessionID string, msgs ...model.Message) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is a process-local Store. It has no eviction beyond the
// per-session message cap.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string][]model.Message
	maxMessages int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore keeps at most maxMessages per session; 0 means unlimited.
func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]model.Message), maxMessages: maxMessages}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message{}, s.sessions[sessionID]...), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.sessions[sessionID], msgs...)
	if s.maxMessages > 0 && len(h) > s.maxMessages {
		h = append([]model.Message(nil), h[len(h)-s.maxMessages:]...)
	}
	s.sessions[sessionID] = h
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of sessions held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
