package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/voxdial/voxdial/internal/model/call"
)

const redisKeyPrefix = "voxdial:session:"

// RedisTracker stores sessions as JSON blobs so several bridge instances
// can serve callbacks for the same call. Save overwrites unconditionally;
// duplicate carrier delivery resolves to the last writer.
type RedisTracker struct {
	seed   Seed
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker creates a tracker backed by the given redis client.
// A zero ttl means keys never expire.
func NewRedisTracker(seed Seed, client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{seed: seed, client: client, ttl: ttl}
}

// Create implements Tracker.
func (t *RedisTracker) Create(ctx context.Context, phoneNumber, voice string) (*call.Session, string, error) {
	sess := t.seed.newSession(phoneNumber, voice)
	sess.ID = uuid.NewString()

	if err := t.put(ctx, sess); err != nil {
		return nil, "", err
	}
	return sess, sess.ID, nil
}

// Resolve implements Tracker. Missing or expired keys yield nil, not an error.
func (t *RedisTracker) Resolve(ctx context.Context, ref string) (*call.Session, error) {
	raw, err := t.client.Get(ctx, redisKeyPrefix+ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", ref, err)
	}

	var sess call.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", ref, err)
	}
	if sess.Messages == nil {
		sess.Messages = []call.Message{}
	}
	return &sess, nil
}

// Save implements Tracker.
func (t *RedisTracker) Save(ctx context.Context, sess *call.Session) (string, error) {
	if err := t.put(ctx, sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Close implements Tracker.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) put(ctx context.Context, sess *call.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := t.client.Set(ctx, redisKeyPrefix+sess.ID, raw, t.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}
