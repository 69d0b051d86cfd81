package events

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Handler serves the per-call websocket event feed.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates the events handler.
func New(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the feed under the API router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/call/events/{sessionID}", h.handleFeed)
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	log.Printf("[events] feed opened for session=%s", sessionID)

	// Reader goroutine notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			log.Printf("[events] feed closed for session=%s", sessionID)
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[events] write failed for session=%s: %v", sessionID, err)
				return
			}
		}
	}
}
