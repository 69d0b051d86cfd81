package speech

import (
	"net/url"
	"strings"
)

// Defaults for the hosted synthesis service.
const (
	DefaultBaseURL = "https://text.pollinations.ai"
	DefaultModel   = "openai-audio"
	DefaultVoice   = "alloy"
)

// URLBuilder produces speech-audio URLs for assistant utterances. The
// sanitized text rides in the path segment; model and voice ride in the
// query string.
type URLBuilder struct {
	baseURL      string
	model        string
	defaultVoice string
}

// NewURLBuilder creates a builder, filling defaults for any empty field.
func NewURLBuilder(baseURL, model, defaultVoice string) *URLBuilder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if defaultVoice == "" {
		defaultVoice = DefaultVoice
	}
	return &URLBuilder{
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        model,
		defaultVoice: defaultVoice,
	}
}

// SpeechURL returns the synthesis URL for text spoken with voice.
// Deterministic for identical inputs.
func (b *URLBuilder) SpeechURL(text, voice string) string {
	if voice == "" {
		voice = b.defaultVoice
	}

	q := url.Values{}
	q.Set("model", b.model)
	q.Set("voice", voice)

	return b.baseURL + "/" + url.PathEscape(Sanitize(text)) + "?" + q.Encode()
}
