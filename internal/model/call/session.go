package call

import (
	"regexp"
	"strings"
	"time"
)

// Session captures the conversational state of one phone call. It is
// JSON-tagged so the stateless tracker can round-trip it through a
// URL-safe token.
type Session struct {
	ID            string    `json:"id"`
	PhoneNumber   string    `json:"phoneNumber"`
	Voice         string    `json:"voice"`
	Messages      []Message `json:"messages"`
	LastAssistant string    `json:"lastAssistant,omitempty"`
	GatherPrompt  string    `json:"gatherPrompt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewSession seeds a session with exactly one system message. The system
// message stays first for the lifetime of the call.
func NewSession(phoneNumber, voice, systemPrompt, gatherPrompt string) *Session {
	now := time.Now().UTC()
	return &Session{
		PhoneNumber:  phoneNumber,
		Voice:        voice,
		Messages:     []Message{{Role: RoleSystem, Content: systemPrompt}},
		GatherPrompt: gatherPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AddUser appends a user turn. Empty utterances are dropped so a silent
// carrier callback never pollutes the history.
func (s *Session) AddUser(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: content})
	s.UpdatedAt = time.Now().UTC()
}

// AddAssistant appends an assistant turn and records it as the utterance
// pending playback.
func (s *Session) AddAssistant(content string) {
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: content})
	s.LastAssistant = content
	s.UpdatedAt = time.Now().UTC()
}

// TrimHistory keeps the leading system message plus the most recent
// maxPairs user/assistant pairs, in original order. This bounds both the
// completion payload and the size of an encoded session token.
func (s *Session) TrimHistory(maxPairs int) {
	if maxPairs <= 0 || len(s.Messages) == 0 {
		return
	}

	rest := s.Messages
	var head []Message
	if rest[0].Role == RoleSystem {
		head = rest[:1]
		rest = rest[1:]
	}

	limit := maxPairs * 2
	if len(rest) > limit {
		rest = rest[len(rest)-limit:]
	}

	trimmed := make([]Message, 0, len(head)+len(rest))
	trimmed = append(trimmed, head...)
	trimmed = append(trimmed, rest...)
	s.Messages = trimmed
}

// Clone returns a deep copy safe to trim and serialize independently of
// the original.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// ValidPhoneNumber reports whether s is an E.164 phone number.
func ValidPhoneNumber(s string) bool {
	return phonePattern.MatchString(s)
}
