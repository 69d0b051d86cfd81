// Package call implements the webhook state machine that drives one
// phone conversation: start originates the call, answer greets, collect
// loops the caller's speech through the completion API.
package call

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voxdial/voxdial/internal/config"
	"github.com/voxdial/voxdial/internal/handler/events"
	"github.com/voxdial/voxdial/internal/model/call"
	"github.com/voxdial/voxdial/internal/session"
	"github.com/voxdial/voxdial/internal/twiml"
	"github.com/voxdial/voxdial/pkg/utils"
)

// Terminal lines for the session-reference failure branches.
const (
	sessionMissingLine = "I'm sorry, no session was provided for this call. Goodbye."
	sessionExpiredLine = "I'm sorry, this session has expired. Goodbye."
)

// CompletionService generates the assistant's next utterance.
type CompletionService interface {
	Complete(ctx context.Context, messages []call.Message) (string, error)
}

// DialService originates and tears down the outbound leg with the
// carrier.
type DialService interface {
	Dial(ctx context.Context, to, answerURL string) (string, error)
	EndCall(ctx context.Context, callSID string) error
}

// Handler owns the three webhook endpoints.
type Handler struct {
	tracker    session.Tracker
	completion CompletionService
	carrier    DialService
	twiml      *twiml.Builder
	hub        *events.Hub
	cfg        config.ConversationConfig
}

// New creates the call handler. completion and carrier may be nil when
// their configuration is absent; start reports that as a server error.
func New(tracker session.Tracker, completion CompletionService, carrier DialService, builder *twiml.Builder, hub *events.Hub, cfg config.ConversationConfig) *Handler {
	return &Handler{
		tracker:    tracker,
		completion: completion,
		carrier:    carrier,
		twiml:      builder,
		hub:        hub,
		cfg:        cfg,
	}
}

// RegisterRoutes mounts the webhook endpoints under the API router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/call/start", h.handleStart)
	r.Get("/call/answer", h.handleAnswer)
	r.Post("/call/answer", h.handleAnswer)
	r.Post("/call/collect", h.handleCollect)
	r.Post("/call/end", h.handleEnd)
}

// handleStart is invoked by the UI, not the carrier, so it is the one
// endpoint allowed to answer with JSON error statuses.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PhoneNumber   string `json:"phoneNumber"`
		InitialPrompt string `json:"initialPrompt"`
		Voice         string `json:"voice"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !call.ValidPhoneNumber(payload.PhoneNumber) {
		utils.RespondError(w, http.StatusBadRequest, "phoneNumber must be a valid E.164 number")
		return
	}
	if h.completion == nil {
		utils.RespondError(w, http.StatusInternalServerError, "completion service is not configured")
		return
	}
	if h.carrier == nil {
		utils.RespondError(w, http.StatusInternalServerError, "carrier is not configured")
		return
	}

	ctx := r.Context()
	sess, _, err := h.tracker.Create(ctx, payload.PhoneNumber, payload.Voice)
	if err != nil {
		log.Printf("[call] create session failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	seed := h.cfg.GreetingPrompt
	if strings.TrimSpace(payload.InitialPrompt) != "" {
		seed = payload.InitialPrompt
	}
	sess.AddUser(seed)

	greeting, err := h.completion.Complete(ctx, sess.Messages)
	if err != nil {
		log.Printf("[call] greeting completion failed for session=%s: %v", sess.ID, err)
		utils.RespondError(w, http.StatusInternalServerError, "completion service unavailable")
		return
	}
	sess.AddAssistant(greeting)
	sess.TrimHistory(h.cfg.MaxPairs)

	ref, err := h.tracker.Save(ctx, sess)
	if err != nil {
		log.Printf("[call] save session failed for session=%s: %v", sess.ID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to persist session")
		return
	}

	callSID, err := h.carrier.Dial(ctx, sess.PhoneNumber, h.twiml.AnswerURL(ref))
	if err != nil {
		log.Printf("[call] dial failed for session=%s: %v", sess.ID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to originate call")
		return
	}

	log.Printf("[call] originated call=%s session=%s to=%s", callSID, sess.ID, sess.PhoneNumber)
	h.hub.Publish(sess.ID, events.CallInitiated, map[string]string{
		"callSid":     callSID,
		"phoneNumber": sess.PhoneNumber,
	})

	// id addresses the events feed; sessionId is the opaque callback
	// reference and only coincides with id for the stateful trackers.
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"sessionId":    ref,
		"id":           sess.ID,
		"status":       "initiated",
		"message":      greeting,
		"gatherPrompt": sess.GatherPrompt,
		"voice":        sess.Voice,
	})
}

// handleAnswer runs when the callee picks up: replay the greeting and
// start listening.
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ref := r.FormValue("session")

	sess, ok := h.resolveForCarrier(w, r, ref)
	if !ok {
		return
	}

	h.hub.Publish(sess.ID, events.CallAnswered, nil)
	h.twiml.Render(w, h.twiml.Conversation(sess, ref, sess.GatherPrompt))
}

// handleCollect receives the caller's transcribed speech and advances the
// conversation by one turn, or repeats the turn when nothing usable was
// heard.
func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.twiml.Render(w, h.twiml.Goodbye(twiml.ApologyLine))
		return
	}
	ref := r.FormValue("session")

	sess, ok := h.resolveForCarrier(w, r, ref)
	if !ok {
		return
	}

	transcript := strings.TrimSpace(r.FormValue("SpeechResult"))
	confidence, _ := strconv.ParseFloat(r.FormValue("Confidence"), 64)

	// Nothing usable heard: repeat the turn without touching the
	// conversation. Not a new turn.
	if transcript == "" || confidence < h.cfg.MinConfidence {
		log.Printf("[call] retrying turn for session=%s confidence=%.2f", sess.ID, confidence)
		h.hub.Publish(sess.ID, events.CallRetry, map[string]float64{"confidence": confidence})
		h.twiml.Render(w, h.twiml.Conversation(sess, ref, h.cfg.RetryPrompt))
		return
	}

	if h.completion == nil {
		h.twiml.Render(w, h.twiml.Goodbye(twiml.ApologyLine))
		return
	}

	sess.AddUser(transcript)
	reply, err := h.completion.Complete(r.Context(), sess.Messages)
	if err != nil {
		log.Printf("[call] completion failed for session=%s: %v", sess.ID, err)
		h.hub.Publish(sess.ID, events.CallEnded, map[string]string{"reason": "completion_error"})
		h.twiml.Render(w, h.twiml.Goodbye(twiml.ApologyLine))
		return
	}
	sess.AddAssistant(reply)
	sess.TrimHistory(h.cfg.MaxPairs)

	newRef, err := h.tracker.Save(r.Context(), sess)
	if err != nil {
		log.Printf("[call] save failed for session=%s: %v", sess.ID, err)
		h.hub.Publish(sess.ID, events.CallEnded, map[string]string{"reason": "store_error"})
		h.twiml.Render(w, h.twiml.Goodbye(twiml.ApologyLine))
		return
	}

	h.hub.Publish(sess.ID, events.TurnUser, map[string]string{"content": transcript})
	h.hub.Publish(sess.ID, events.TurnAssistant, map[string]string{"content": reply})
	h.twiml.Render(w, h.twiml.Conversation(sess, newRef, h.cfg.NextPrompt))
}

// handleEnd lets the UI hang up an in-flight call.
func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		CallSID   string `json:"callSid"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.CallSID == "" {
		utils.RespondError(w, http.StatusBadRequest, "callSid is required")
		return
	}
	if h.carrier == nil {
		utils.RespondError(w, http.StatusInternalServerError, "carrier is not configured")
		return
	}

	if err := h.carrier.EndCall(r.Context(), payload.CallSID); err != nil {
		log.Printf("[call] end call=%s failed: %v", payload.CallSID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to end call")
		return
	}

	log.Printf("[call] ended call=%s", payload.CallSID)
	if payload.SessionID != "" {
		if sess, err := h.tracker.Resolve(r.Context(), payload.SessionID); err == nil && sess != nil {
			h.hub.Publish(sess.ID, events.CallEnded, map[string]string{"reason": "hangup"})
		}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"callSid": payload.CallSID,
		"status":  "ended",
	})
}

// resolveForCarrier looks up the session for a carrier callback. On any
// failure it renders the terminal document itself: the carrier must never
// see a non-200 or a transport error from answer/collect.
func (h *Handler) resolveForCarrier(w http.ResponseWriter, r *http.Request, ref string) (*call.Session, bool) {
	if ref == "" {
		h.twiml.Render(w, h.twiml.Goodbye(sessionMissingLine))
		return nil, false
	}

	sess, err := h.tracker.Resolve(r.Context(), ref)
	if err != nil {
		log.Printf("[call] resolve failed for ref=%s: %v", ref, err)
		h.twiml.Render(w, h.twiml.Goodbye(sessionExpiredLine))
		return nil, false
	}
	if sess == nil {
		h.twiml.Render(w, h.twiml.Goodbye(sessionExpiredLine))
		return nil, false
	}
	return sess, true
}
