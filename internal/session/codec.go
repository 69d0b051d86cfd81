package session

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/voxdial/voxdial/internal/model/call"
)

// TokenTracker carries the whole session inside the callback URL, so the
// server holds no state at all between webhooks. The reference handed to
// the carrier is a URL-safe base64 encoding of the trimmed session JSON.
type TokenTracker struct {
	seed Seed
}

// NewTokenTracker creates the stateless tracker.
func NewTokenTracker(seed Seed) *TokenTracker {
	return &TokenTracker{seed: seed}
}

// Create implements Tracker. The session still gets an id so the event
// feed has a stable key across re-encodes.
func (t *TokenTracker) Create(ctx context.Context, phoneNumber, voice string) (*call.Session, string, error) {
	sess := t.seed.newSession(phoneNumber, voice)
	sess.ID = uuid.NewString()

	ref, err := t.Save(ctx, sess)
	if err != nil {
		return nil, "", err
	}
	return sess, ref, nil
}

// Resolve implements Tracker. Any failure to decode the token, at any
// stage, yields nil: the caller renders a "session expired" document
// instead of crashing the live call.
func (t *TokenTracker) Resolve(_ context.Context, ref string) (*call.Session, error) {
	if ref == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil {
		return nil, nil
	}

	var sess call.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil
	}
	if sess.Messages == nil {
		sess.Messages = []call.Message{}
	}
	return &sess, nil
}

// Save implements Tracker: clone, trim, serialize, encode. The trim bounds
// the token so it stays embeddable in a callback URL.
func (t *TokenTracker) Save(_ context.Context, sess *call.Session) (string, error) {
	clone := sess.Clone()
	clone.TrimHistory(t.seed.MaxPairs)

	raw, err := json.Marshal(clone)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Close implements Tracker.
func (t *TokenTracker) Close() error {
	return nil
}
