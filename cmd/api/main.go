package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxdial/voxdial/internal/config"
	"github.com/voxdial/voxdial/internal/handler"
	callHandler "github.com/voxdial/voxdial/internal/handler/call"
	eventsHandler "github.com/voxdial/voxdial/internal/handler/events"
	"github.com/voxdial/voxdial/internal/service/carrier"
	"github.com/voxdial/voxdial/internal/service/completion"
	"github.com/voxdial/voxdial/internal/service/speech"
	"github.com/voxdial/voxdial/internal/session"
	"github.com/voxdial/voxdial/internal/twiml"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Session tracker: memory, redis, or the stateless token codec.
	tracker, err := session.NewTracker(cfg.Session, session.Seed{
		SystemPrompt: cfg.Conversation.SystemPrompt,
		GatherPrompt: cfg.Conversation.GatherPrompt,
		DefaultVoice: cfg.Speech.DefaultVoice,
		MaxPairs:     cfg.Conversation.MaxPairs,
	})
	if err != nil {
		log.Fatalf("failed to create session tracker: %v", err)
	}
	defer func() { _ = tracker.Close() }()
	log.Printf("session tracker: %s", cfg.Session.Store)

	// Completion client; without it no conversation can start.
	var completionClient callHandler.CompletionService
	if cfg.Completion.Enabled() {
		client, err := completion.New(&completion.Config{
			Endpoint:         cfg.Completion.Endpoint,
			APIKey:           cfg.Completion.APIKey,
			Model:            cfg.Completion.Model,
			Temperature:      cfg.Completion.Temperature,
			TopP:             cfg.Completion.TopP,
			MaxOutputTokens:  cfg.Completion.MaxOutputTokens,
			PresencePenalty:  cfg.Completion.PresencePenalty,
			FrequencyPenalty: cfg.Completion.FrequencyPenalty,
		})
		if err != nil {
			log.Printf("warning: failed to initialize completion client: %v", err)
		} else {
			completionClient = client
			log.Println("completion client initialized successfully")
		}
	} else {
		log.Println("completion endpoint not configured, calls cannot start")
	}

	// Carrier client; without it the bridge can still serve webhooks for
	// calls originated elsewhere.
	var dialClient callHandler.DialService
	if cfg.Carrier.Enabled() {
		client, err := carrier.New(&carrier.Config{
			AccountSID: cfg.Carrier.AccountSID,
			AuthToken:  cfg.Carrier.AuthToken,
			FromNumber: cfg.Carrier.FromNumber,
			BaseURL:    cfg.Carrier.BaseURL,
		})
		if err != nil {
			log.Printf("warning: failed to initialize carrier client: %v", err)
		} else {
			dialClient = client
			log.Println("carrier client initialized successfully")
		}
	} else {
		log.Println("carrier credentials not configured, call origination disabled")
	}

	builder := twiml.NewBuilder(
		speech.NewURLBuilder(cfg.Speech.BaseURL, cfg.Speech.Model, cfg.Speech.DefaultVoice),
		cfg.Server.PublicBaseURL,
	)

	hub := eventsHandler.NewHub()
	calls := callHandler.New(tracker, completionClient, dialClient, builder, hub, cfg.Conversation)
	router := handler.NewRouter(calls, eventsHandler.New(hub))

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voxdial bridge listening on %s (public base %s)", serverCfg.Addr, serverCfg.PublicBaseURL)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
