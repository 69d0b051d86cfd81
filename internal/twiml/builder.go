package twiml

import (
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/voxdial/voxdial/internal/model/call"
	"github.com/voxdial/voxdial/internal/service/speech"
)

// Lines spoken on terminal branches.
const (
	ApologyLine    = "I'm sorry, something went wrong on our end. Goodbye."
	NoResponseLine = "No response detected. Ending the call."
)

// Builder renders call-control documents for the webhook handlers.
type Builder struct {
	speech        *speech.URLBuilder
	publicBaseURL string
}

// NewBuilder creates a Builder. publicBaseURL is this server's address as
// seen by the carrier.
func NewBuilder(speechURLs *speech.URLBuilder, publicBaseURL string) *Builder {
	return &Builder{
		speech:        speechURLs,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// AnswerURL is the callback the carrier invokes when the callee picks up.
func (b *Builder) AnswerURL(ref string) string {
	return fmt.Sprintf("%s/api/call/answer?session=%s", b.publicBaseURL, url.QueryEscape(ref))
}

// CollectURL is the callback that receives the caller's transcribed speech.
func (b *Builder) CollectURL(ref string) string {
	return fmt.Sprintf("%s/api/call/collect?session=%s", b.publicBaseURL, url.QueryEscape(ref))
}

// Conversation renders one conversational turn: play the pending
// utterance, gather the caller's reply toward the collect callback, and
// fall through to a no-response goodbye if the gather times out. When the
// session has no pending utterance the terminal apology ships instead.
func (b *Builder) Conversation(sess *call.Session, ref, prompt string) *Document {
	if sess == nil || strings.TrimSpace(sess.LastAssistant) == "" {
		return b.Goodbye(ApologyLine)
	}
	if prompt == "" {
		prompt = sess.GatherPrompt
	}

	return &Document{
		Play: &Play{URL: b.speech.SpeechURL(sess.LastAssistant, sess.Voice)},
		Gather: &Gather{
			Input:         "speech",
			Action:        b.CollectURL(ref),
			Method:        http.MethodPost,
			SpeechTimeout: "auto",
			Say:           &Say{Text: prompt},
			Pause:         &Pause{Length: 1},
		},
		Say:    &Say{Text: NoResponseLine},
		Hangup: &Hangup{},
	}
}

// Goodbye renders the terminal document: speak the message, end the call.
func (b *Builder) Goodbye(message string) *Document {
	return &Document{
		Say:    &Say{Text: message},
		Hangup: &Hangup{},
	}
}

// Render writes doc the way the carrier requires: HTTP 200, text/xml,
// uncached. Handlers must never answer the carrier with anything else.
func (b *Builder) Render(w http.ResponseWriter, doc *Document) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Unreachable for these structs, but the carrier still needs
		// well-formed XML if it ever happens.
		log.Printf("[twiml] marshal failed: %v", err)
		out = []byte("<Response><Say>" + ApologyLine + "</Say><Hangup></Hangup></Response>")
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}
