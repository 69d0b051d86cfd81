package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/voxdial/voxdial/internal/config"
	"github.com/voxdial/voxdial/internal/handler/events"
	"github.com/voxdial/voxdial/internal/model/call"
	"github.com/voxdial/voxdial/internal/session"
	"github.com/voxdial/voxdial/internal/service/speech"
	"github.com/voxdial/voxdial/internal/twiml"
)

type stubCompletion struct {
	reply string
	err   error

	mu    sync.Mutex
	calls int
}

func (s *stubCompletion) Complete(_ context.Context, _ []call.Message) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubDialer struct {
	sid           string
	err           error
	lastTo        string
	lastAnswerURL string
	endedSID      string
}

func (s *stubDialer) Dial(_ context.Context, to, answerURL string) (string, error) {
	s.lastTo = to
	s.lastAnswerURL = answerURL
	if s.err != nil {
		return "", s.err
	}
	return s.sid, nil
}

func (s *stubDialer) EndCall(_ context.Context, callSID string) error {
	s.endedSID = callSID
	if s.err != nil {
		return s.err
	}
	return nil
}

func testConversationConfig() config.ConversationConfig {
	return config.ConversationConfig{
		SystemPrompt:   "be brief",
		GreetingPrompt: config.DefaultGreetingPrompt,
		GatherPrompt:   config.DefaultGatherPrompt,
		RetryPrompt:    config.DefaultRetryPrompt,
		NextPrompt:     config.DefaultNextPrompt,
		MaxPairs:       6,
		MinConfidence:  0.1,
	}
}

func setup(completion *stubCompletion, dialer *stubDialer) (*chi.Mux, session.Tracker) {
	tracker := session.NewMemoryTracker(session.Seed{
		SystemPrompt: "be brief",
		GatherPrompt: config.DefaultGatherPrompt,
		DefaultVoice: "alloy",
		MaxPairs:     6,
	})
	builder := twiml.NewBuilder(
		speech.NewURLBuilder("https://speech.example.com", "openai-audio", "alloy"),
		"https://bridge.example.com",
	)

	var completionSvc CompletionService
	if completion != nil {
		completionSvc = completion
	}
	var dialSvc DialService
	if dialer != nil {
		dialSvc = dialer
	}

	h := New(tracker, completionSvc, dialSvc, builder, events.NewHub(), testConversationConfig())

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, tracker
}

func startCall(t *testing.T, r *chi.Mux, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/call/start", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func postCollect(t *testing.T, r *chi.Mux, ref string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/call/collect?session="+url.QueryEscape(ref), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

// Scenario A: start seeds a session with the default voice and responds
// with the initiated payload.
func TestStartInitiatesCall(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	dialer := &stubDialer{sid: "CA123"}
	r, tracker := setup(completion, dialer)

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "initiated" {
		t.Errorf("expected status initiated, got %q", body["status"])
	}
	if body["message"] != "Hi there" {
		t.Errorf("expected greeting in response, got %q", body["message"])
	}
	if body["voice"] != "alloy" {
		t.Errorf("expected default voice, got %q", body["voice"])
	}
	if body["sessionId"] == "" {
		t.Errorf("expected a session reference")
	}
	if body["id"] == "" {
		t.Errorf("expected the session id for the events feed")
	}

	if dialer.lastTo != "+15555550123" {
		t.Errorf("expected dial to destination, got %q", dialer.lastTo)
	}
	if !strings.Contains(dialer.lastAnswerURL, "/api/call/answer?session=") {
		t.Errorf("expected answer callback URL, got %q", dialer.lastAnswerURL)
	}

	sess, err := tracker.Resolve(context.Background(), body["sessionId"])
	if err != nil || sess == nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.LastAssistant != "Hi there" {
		t.Errorf("expected greeting recorded, got %q", sess.LastAssistant)
	}
	if sess.Messages[0].Role != call.RoleSystem {
		t.Errorf("expected system message first")
	}
}

func TestStartRejectsBadPhoneNumbers(t *testing.T) {
	r, _ := setup(&stubCompletion{reply: "hi"}, &stubDialer{sid: "CA1"})

	for _, number := range []string{"", "5550123", "+1 555", "not-a-number"} {
		resp := startCall(t, r, map[string]string{"phoneNumber": number})
		if resp.Code != http.StatusBadRequest {
			t.Errorf("number %q: expected 400, got %d", number, resp.Code)
		}
	}
}

func TestStartWithoutCarrierConfigIs500(t *testing.T) {
	r, _ := setup(&stubCompletion{reply: "hi"}, nil)

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	var body map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Fatalf("expected a structured error body")
	}
}

func TestStartUpstreamFailureShortCircuits(t *testing.T) {
	dialer := &stubDialer{sid: "CA1"}
	r, _ := setup(&stubCompletion{err: errors.New("boom")}, dialer)

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if dialer.lastTo != "" {
		t.Fatalf("no call must be originated when the greeting fails")
	}
}

// Scenario B: collect with a confident transcript advances the turn.
func TestCollectAdvancesConversation(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	r, tracker := setup(completion, &stubDialer{sid: "CA1"})

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)
	ref := started["sessionId"]

	completion.reply = "I'm doing well"
	form := url.Values{}
	form.Set("SpeechResult", "How are you?")
	form.Set("Confidence", "0.92")

	collectResp := postCollect(t, r, ref, form)
	body := collectResp.Body.String()

	if collectResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", collectResp.Code)
	}
	if ct := collectResp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected text/xml, got %q", ct)
	}
	// Apostrophe is XML-escaped inside the Play element.
	if !strings.Contains(body, "m%20doing%20well") {
		t.Errorf("expected encoded reply in Play URL, got:\n%s", body)
	}
	if !strings.Contains(body, "/api/call/collect?session="+ref) {
		t.Errorf("expected gather action for the same session, got:\n%s", body)
	}

	sess, _ := tracker.Resolve(context.Background(), ref)
	if sess.LastAssistant != "I'm doing well" {
		t.Errorf("expected updated utterance, got %q", sess.LastAssistant)
	}
	tail := sess.Messages[len(sess.Messages)-2:]
	if tail[0].Content != "How are you?" || tail[1].Content != "I'm doing well" {
		t.Errorf("expected appended turn pair, got %+v", tail)
	}
}

// Scenario C: low confidence repeats the turn with no completion call and
// no history mutation.
func TestCollectLowConfidenceRepeatsTurn(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	r, tracker := setup(completion, &stubDialer{sid: "CA1"})

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)
	ref := started["sessionId"]

	before, _ := tracker.Resolve(context.Background(), ref)
	messagesBefore := len(before.Messages)
	completion.calls = 0

	form := url.Values{}
	form.Set("SpeechResult", "mumble")
	form.Set("Confidence", "0.05")

	collectResp := postCollect(t, r, ref, form)
	body := collectResp.Body.String()

	if completion.calls != 0 {
		t.Fatalf("low confidence must not invoke the completion API, got %d calls", completion.calls)
	}
	if !strings.Contains(body, "catch that") {
		t.Errorf("expected retry prompt, got:\n%s", body)
	}

	after, _ := tracker.Resolve(context.Background(), ref)
	if len(after.Messages) != messagesBefore {
		t.Errorf("history mutated on a repeated turn: %d -> %d", messagesBefore, len(after.Messages))
	}
	if after.LastAssistant != "Hi there" {
		t.Errorf("lastAssistant mutated on a repeated turn: %q", after.LastAssistant)
	}
}

func TestCollectEmptyTranscriptRepeatsTurn(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	r, _ := setup(completion, &stubDialer{sid: "CA1"})

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)
	completion.calls = 0

	form := url.Values{}
	form.Set("SpeechResult", "")
	form.Set("Confidence", "0.99")

	body := postCollect(t, r, started["sessionId"], form).Body.String()

	if completion.calls != 0 {
		t.Fatalf("empty transcript must not invoke the completion API")
	}
	if !strings.Contains(body, "catch that") {
		t.Errorf("expected retry prompt, got:\n%s", body)
	}
}

func TestCollectCompletionFailureRendersApology(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	r, _ := setup(completion, &stubDialer{sid: "CA1"})

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)

	completion.err = errors.New("upstream exploded")
	form := url.Values{}
	form.Set("SpeechResult", "How are you?")
	form.Set("Confidence", "0.92")

	collectResp := postCollect(t, r, started["sessionId"], form)
	body := collectResp.Body.String()

	if collectResp.Code != http.StatusOK {
		t.Fatalf("carrier must always get 200, got %d", collectResp.Code)
	}
	if !strings.Contains(body, "<Hangup>") || strings.Contains(body, "<Gather") {
		t.Errorf("expected terminal apology, got:\n%s", body)
	}
}

func TestAnswerRendersGreeting(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	r, _ := setup(completion, &stubDialer{sid: "CA1"})

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)

	req := httptest.NewRequest(http.MethodGet, "/call/answer?session="+url.QueryEscape(started["sessionId"]), nil)
	answerResp := httptest.NewRecorder()
	r.ServeHTTP(answerResp, req)
	body := answerResp.Body.String()

	if answerResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", answerResp.Code)
	}
	if !strings.Contains(body, "<Play>") || !strings.Contains(body, "Hi%20there") {
		t.Errorf("expected greeting playback, got:\n%s", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Errorf("expected listen instruction, got:\n%s", body)
	}
}

func TestCarrierEndpointsNeverFailOnBadSession(t *testing.T) {
	r, _ := setup(&stubCompletion{reply: "hi"}, &stubDialer{sid: "CA1"})

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/call/answer", nil),
		httptest.NewRequest(http.MethodGet, "/call/answer?session=unknown-session", nil),
		httptest.NewRequest(http.MethodPost, "/call/collect?session=garbage", strings.NewReader("SpeechResult=hi&Confidence=0.9")),
	}
	requests[2].Header.Set("Content-Type", "application/x-www-form-urlencoded")

	for i, req := range requests {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Errorf("request %d: carrier must get 200, got %d", i, resp.Code)
		}
		if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
			t.Errorf("request %d: expected text/xml, got %q", i, ct)
		}
		if !strings.Contains(resp.Body.String(), "<Hangup>") {
			t.Errorf("request %d: expected hangup in terminal document", i)
		}
	}
}

// The handlers never branch on the tracker variant, so the stateless
// codec drops in unchanged: the collect response carries a fresh token.
func TestCollectWithTokenTracker(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	tracker := session.NewTokenTracker(session.Seed{
		SystemPrompt: "be brief",
		GatherPrompt: config.DefaultGatherPrompt,
		DefaultVoice: "alloy",
		MaxPairs:     6,
	})
	builder := twiml.NewBuilder(
		speech.NewURLBuilder("https://speech.example.com", "openai-audio", "alloy"),
		"https://bridge.example.com",
	)
	h := New(tracker, completion, &stubDialer{sid: "CA1"}, builder, events.NewHub(), testConversationConfig())
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)
	token := started["sessionId"]
	if started["id"] == "" || started["id"] == token {
		t.Fatalf("expected a feed id distinct from the token, got %q", started["id"])
	}

	completion.reply = "Doing great"
	form := url.Values{}
	form.Set("SpeechResult", "How are you?")
	form.Set("Confidence", "0.92")

	body := postCollect(t, r, token, form).Body.String()

	if !strings.Contains(body, "/api/call/collect?session=") {
		t.Fatalf("expected a gather action with a token, got:\n%s", body)
	}
	if strings.Contains(body, "session="+token+`"`) {
		t.Fatalf("token must be re-encoded after the turn advances")
	}
}

func TestEndCallHangsUp(t *testing.T) {
	dialer := &stubDialer{sid: "CA77"}
	r, _ := setup(&stubCompletion{reply: "hi"}, dialer)

	payload, _ := json.Marshal(map[string]string{"callSid": "CA77"})
	req := httptest.NewRequest(http.MethodPost, "/call/end", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if dialer.endedSID != "CA77" {
		t.Fatalf("expected carrier hangup for CA77, got %q", dialer.endedSID)
	}

	var body map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["status"] != "ended" {
		t.Fatalf("expected status ended, got %q", body["status"])
	}
}

func TestEndCallRequiresCallSID(t *testing.T) {
	r, _ := setup(&stubCompletion{reply: "hi"}, &stubDialer{})

	req := httptest.NewRequest(http.MethodPost, "/call/end", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

// Carriers retry webhooks, so the same collect can arrive twice at once.
// Every delivery must render a full turn document and the tracker must be
// left holding one coherent session, not a torn one.
func TestCollectConcurrentDuplicateDeliveries(t *testing.T) {
	completion := &stubCompletion{reply: "Hi there"}
	r, tracker := setup(completion, &stubDialer{sid: "CA1"})

	resp := startCall(t, r, map[string]string{"phoneNumber": "+15555550123"})
	var started map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &started)
	ref := started["sessionId"]

	const deliveries = 8
	results := make([]*httptest.ResponseRecorder, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			form := url.Values{}
			form.Set("SpeechResult", "How are you?")
			form.Set("Confidence", "0.92")
			results[i] = postCollect(t, r, ref, form)
		}(i)
	}
	wg.Wait()

	for i, rec := range results {
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<Gather") {
			t.Fatalf("delivery %d: expected a gather document, got:\n%s", i, rec.Body.String())
		}
	}

	sess, err := tracker.Resolve(context.Background(), ref)
	if err != nil || sess == nil {
		t.Fatalf("session lost after duplicate deliveries: %v", err)
	}
	// system + greeting pair + exactly one surviving collect turn.
	if len(sess.Messages) != 5 {
		t.Fatalf("expected 5 messages after last writer wins, got %d", len(sess.Messages))
	}
	if sess.LastAssistant != "Hi there" {
		t.Fatalf("unexpected final assistant line %q", sess.LastAssistant)
	}
}
