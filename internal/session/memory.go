package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/voxdial/voxdial/internal/model/call"
)

// MemoryTracker keeps sessions in a process-local map. Save is a plain
// put: under duplicate carrier delivery the last writer wins, which is
// the accepted outcome for retried webhooks.
type MemoryTracker struct {
	seed Seed

	mu       sync.RWMutex
	sessions map[string]*call.Session
}

// NewMemoryTracker creates the in-process tracker.
func NewMemoryTracker(seed Seed) *MemoryTracker {
	return &MemoryTracker{
		seed:     seed,
		sessions: make(map[string]*call.Session),
	}
}

// Create implements Tracker.
func (t *MemoryTracker) Create(_ context.Context, phoneNumber, voice string) (*call.Session, string, error) {
	sess := t.seed.newSession(phoneNumber, voice)
	sess.ID = uuid.NewString()

	t.mu.Lock()
	t.sessions[sess.ID] = sess.Clone()
	t.mu.Unlock()

	return sess, sess.ID, nil
}

// Resolve implements Tracker. Unknown references yield nil, not an error.
// The caller gets its own copy: concurrent duplicate callbacks must never
// share one Messages slice, and Save replaces the map entry wholesale so
// the last writer still wins.
func (t *MemoryTracker) Resolve(_ context.Context, ref string) (*call.Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sess, ok := t.sessions[ref]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// Save implements Tracker. A plain put of the caller's copy; duplicate
// deliveries resolve to whichever Save lands last.
func (t *MemoryTracker) Save(_ context.Context, sess *call.Session) (string, error) {
	t.mu.Lock()
	t.sessions[sess.ID] = sess.Clone()
	t.mu.Unlock()
	return sess.ID, nil
}

// Close implements Tracker.
func (t *MemoryTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = nil
	return nil
}
