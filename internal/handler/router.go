package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	callHandler "github.com/voxdial/voxdial/internal/handler/call"
	eventsHandler "github.com/voxdial/voxdial/internal/handler/events"
	middlewarePkg "github.com/voxdial/voxdial/internal/middleware"
)

// NewRouter wires HTTP routes to the webhook and event handlers.
func NewRouter(calls *callHandler.Handler, events *eventsHandler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		calls.RegisterRoutes(api)
		events.RegisterRoutes(api)
	})

	return r
}
