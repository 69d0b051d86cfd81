// Package session keeps live call state alive between carrier callbacks.
//
// Three trackers implement the same interface: an in-process map, a redis
// store for multi-instance deployments, and a stateless codec that carries
// the whole session inside the callback URL.
package session

import (
	"context"
	"errors"

	"github.com/voxdial/voxdial/internal/model/call"
)

// Common errors for tracker operations.
var (
	ErrInvalidStoreType = errors.New("invalid session store type")
)

// Seed carries the values every new session starts from.
type Seed struct {
	SystemPrompt string
	GatherPrompt string
	DefaultVoice string
	MaxPairs     int
}

// Tracker abstracts how a session survives between webhooks. Handlers
// never branch on the concrete variant.
type Tracker interface {
	// Create seeds a new session and returns it together with the
	// reference the carrier must carry on its next callback.
	Create(ctx context.Context, phoneNumber, voice string) (*call.Session, string, error)

	// Resolve returns the session for a callback reference, or nil (not
	// an error) when the reference is missing, unknown, or undecodable.
	Resolve(ctx context.Context, ref string) (*call.Session, error)

	// Save persists the session's current state and returns the reference
	// for the next callback.
	Save(ctx context.Context, sess *call.Session) (string, error)

	// Close releases any resources held by the tracker.
	Close() error
}

func (s Seed) newSession(phoneNumber, voice string) *call.Session {
	if voice == "" {
		voice = s.DefaultVoice
	}
	return call.NewSession(phoneNumber, voice, s.SystemPrompt, s.GatherPrompt)
}
