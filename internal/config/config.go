package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the bridge reads from the environment.
type Config struct {
	Server       ServerConfig
	Carrier      CarrierConfig
	Completion   CompletionConfig
	Speech       SpeechConfig
	Session      SessionConfig
	Conversation ConversationConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	completion, err := loadCompletionConfig()
	if err != nil {
		return nil, err
	}

	conversation, err := loadConversationConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		Carrier:      loadCarrierConfig(),
		Completion:   completion,
		Speech:       loadSpeechConfig(),
		Session:      session,
		Conversation: conversation,
	}, nil
}

// ServerConfig describes the HTTP listener and the public address the
// carrier uses to reach it.
type ServerConfig struct {
	Addr          string
	PublicBaseURL string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	base := strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	if base == "" {
		// Webhook callbacks need a reachable address; fall back to the
		// local listener so the server still boots for development.
		base = "http://localhost" + addr
	}

	return ServerConfig{Addr: addr, PublicBaseURL: base}, nil
}

// CarrierConfig holds the telephony carrier credentials.
type CarrierConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// Enabled reports whether the credentials needed to originate calls are present.
func (c CarrierConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

func loadCarrierConfig() CarrierConfig {
	return CarrierConfig{
		AccountSID: strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		AuthToken:  strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		FromNumber: strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		BaseURL:    getEnvOrDefault("TWILIO_BASE_URL", "https://api.twilio.com/2010-04-01"),
	}
}

// CompletionConfig describes the chat-completion endpoint and its sampling knobs.
type CompletionConfig struct {
	Endpoint         string
	APIKey           string
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxOutputTokens  *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
}

// Enabled reports whether the completion client can be constructed.
func (c CompletionConfig) Enabled() bool {
	return c.Endpoint != "" && c.Model != ""
}

func loadCompletionConfig() (CompletionConfig, error) {
	temperature, err := parseOptionalFloatEnv("COMPLETION_TEMPERATURE")
	if err != nil {
		return CompletionConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("COMPLETION_TOP_P")
	if err != nil {
		return CompletionConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("COMPLETION_MAX_TOKENS")
	if err != nil {
		return CompletionConfig{}, err
	}

	presence, err := parseOptionalFloatEnv("COMPLETION_PRESENCE_PENALTY")
	if err != nil {
		return CompletionConfig{}, err
	}

	frequency, err := parseOptionalFloatEnv("COMPLETION_FREQUENCY_PENALTY")
	if err != nil {
		return CompletionConfig{}, err
	}

	return CompletionConfig{
		Endpoint:         strings.TrimSpace(os.Getenv("COMPLETION_ENDPOINT")),
		APIKey:           strings.TrimSpace(os.Getenv("COMPLETION_API_KEY")),
		Model:            getEnvOrDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		Temperature:      temperature,
		TopP:             topP,
		MaxOutputTokens:  maxTokens,
		PresencePenalty:  presence,
		FrequencyPenalty: frequency,
	}, nil
}

// SpeechConfig describes the hosted text-to-speech URL service.
type SpeechConfig struct {
	BaseURL      string
	Model        string
	DefaultVoice string
}

func loadSpeechConfig() SpeechConfig {
	return SpeechConfig{
		BaseURL:      getEnvOrDefault("SPEECH_BASE_URL", "https://text.pollinations.ai"),
		Model:        getEnvOrDefault("SPEECH_MODEL", "openai-audio"),
		DefaultVoice: getEnvOrDefault("SPEECH_VOICE", "alloy"),
	}
}

// SessionConfig selects how live call state survives between webhooks.
type SessionConfig struct {
	Store    string
	RedisURL string
	RedisTTL time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttlSeconds, err := parseOptionalIntEnv("SESSION_TTL_SECONDS")
	if err != nil {
		return SessionConfig{}, err
	}
	ttl := time.Hour
	if ttlSeconds != nil {
		ttl = time.Duration(*ttlSeconds) * time.Second
	}

	return SessionConfig{
		Store:    getEnvOrDefault("SESSION_STORE", "memory"),
		RedisURL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisTTL: ttl,
	}, nil
}

// Default prompts spoken by the bridge. Overridable per deployment.
const (
	DefaultSystemPrompt = "You are a friendly assistant on a live phone call. " +
		"Keep every reply short, natural, and easy to speak aloud. " +
		"Never use markup, lists, or emoji."
	DefaultGreetingPrompt = "Greet the caller briefly and ask how you can help."
	DefaultGatherPrompt   = "Please go ahead, I'm listening."
	DefaultRetryPrompt    = "I didn't catch that. Could you say it again?"
	DefaultNextPrompt     = "I'm ready for your reply."
)

// ConversationConfig carries the prompts and tuning constants of the
// webhook state machine.
type ConversationConfig struct {
	SystemPrompt   string
	GreetingPrompt string
	GatherPrompt   string
	RetryPrompt    string
	NextPrompt     string
	MaxPairs       int
	MinConfidence  float64
}

func loadConversationConfig() (ConversationConfig, error) {
	maxPairs := 6
	if override, err := parseOptionalIntEnv("HISTORY_MAX_PAIRS"); err != nil {
		return ConversationConfig{}, err
	} else if override != nil {
		if *override < 1 {
			maxPairs = 1
		} else {
			maxPairs = *override
		}
	}

	minConfidence := 0.1
	if override, err := parseOptionalFloatEnv("COLLECT_MIN_CONFIDENCE"); err != nil {
		return ConversationConfig{}, err
	} else if override != nil {
		minConfidence = *override
	}

	return ConversationConfig{
		SystemPrompt:   getEnvOrDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
		GreetingPrompt: getEnvOrDefault("GREETING_PROMPT", DefaultGreetingPrompt),
		GatherPrompt:   getEnvOrDefault("GATHER_PROMPT", DefaultGatherPrompt),
		RetryPrompt:    getEnvOrDefault("RETRY_PROMPT", DefaultRetryPrompt),
		NextPrompt:     getEnvOrDefault("NEXT_PROMPT", DefaultNextPrompt),
		MaxPairs:       maxPairs,
		MinConfidence:  minConfidence,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
