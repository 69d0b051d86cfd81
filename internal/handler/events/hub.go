// Package events feeds call lifecycle events to the UI over websockets.
package events

import (
	"sync"
	"time"
)

// Event types published over the call feed.
const (
	CallInitiated = "call.initiated"
	CallAnswered  = "call.answered"
	TurnUser      = "turn.user"
	TurnAssistant = "turn.assistant"
	CallRetry     = "call.retry"
	CallEnded     = "call.ended"
)

// Event is the envelope delivered to feed subscribers.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub fans call lifecycle events out to per-session subscribers. Webhook
// handlers publish; websocket connections subscribe.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for one session's events. The returned
// cancel function must be called when the listener goes away.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to the session's subscribers. Slow consumers
// are skipped rather than blocking a webhook handler.
func (h *Hub) Publish(sessionID, eventType string, data interface{}) {
	ev := Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
