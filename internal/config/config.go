package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DialerConfig holds configuration for the outbound dialer service
type DialerConfig struct {
	Port   string
	LogEnv string

	// Voice-AI provider
	VoiceAIAPIKey  string
	VoiceAIBaseURL string

	// Twilio
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioPhoneNumber       string
	TwilioValidateCallbacks bool

	// Shared secret for voice-AI webhook signatures
	WebhookSecret string

	// Externally reachable base URL of this service, used in provider callbacks
	PublicBaseURL string

	// Digits prepended to numbers given without a leading '+'
	DefaultCountryCode string

	// Outcome classification
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	ClassifierTimeout time.Duration

	UpstreamTimeout time.Duration

	// Session JWT verification for the dashboard API. Empty disables the check (development only).
	SessionJWTSecret string

	// Batch dispatch
	BatchCallsPerSecond float64
	BatchMaxContacts    int

	// Redis (delivery ledger and task bus). Empty host keeps both in-process.
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Recording storage (GCS). Empty bucket disables recording upload.
	RecordingBucket string

	// Call events (Pub/Sub). Empty project disables publishing.
	PubSubProjectID string
	PubSubTopicName string
}

// LoadConfigFromEnv builds a DialerConfig from environment variables
func LoadConfigFromEnv() *DialerConfig {
	return &DialerConfig{
		Port:   getEnvOrDefault("PORT", "8080"),
		LogEnv: getEnvOrDefault("LOG_ENV", "development"),

		VoiceAIAPIKey:  getEnvOrDefault("VOICE_AI_API_KEY", ""),
		VoiceAIBaseURL: strings.TrimRight(getEnvOrDefault("VOICE_AI_BASE_URL", "https://api.elevenlabs.io"), "/"),

		TwilioAccountSID:        getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:       getEnvOrDefault("TWILIO_PHONE_NUMBER", ""),
		TwilioValidateCallbacks: getEnvAsBoolOrDefault("TWILIO_VALIDATE_CALLBACKS", true),

		WebhookSecret:      getEnvOrDefault("WEBHOOK_SECRET", ""),
		PublicBaseURL:      strings.TrimRight(getEnvOrDefault("PUBLIC_BASE_URL", ""), "/"),
		DefaultCountryCode: strings.TrimPrefix(getEnvOrDefault("DEFAULT_COUNTRY_CODE", ""), "+"),

		OpenAIAPIKey:      getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnvOrDefault("OPENAI_BASE_URL", ""),
		OpenAIModel:       getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ClassifierTimeout: time.Duration(getEnvAsIntOrDefault("CLASSIFIER_TIMEOUT_SECONDS", 10)) * time.Second,

		UpstreamTimeout: time.Duration(getEnvAsIntOrDefault("UPSTREAM_TIMEOUT_SECONDS", 15)) * time.Second,

		SessionJWTSecret: getEnvOrDefault("SESSION_JWT_SECRET", ""),

		BatchCallsPerSecond: getEnvAsFloatOrDefault("BATCH_CALLS_PER_SECOND", 1),
		BatchMaxContacts:    getEnvAsIntOrDefault("BATCH_MAX_CONTACTS", 500),

		RedisHost:     getEnvOrDefault("REDIS_HOST", ""),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		RecordingBucket: getEnvOrDefault("RECORDING_BUCKET", ""),

		PubSubProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
		PubSubTopicName: getEnvOrDefault("PUBSUB_TOPIC_NAME", "call-events"),
	}
}

// Validate fails when a credential required to place or reconcile calls is missing
func (c *DialerConfig) Validate() error {
	required := []struct {
		env   string
		value string
	}{
		{"VOICE_AI_API_KEY", c.VoiceAIAPIKey},
		{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", c.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", c.TwilioPhoneNumber},
		{"WEBHOOK_SECRET", c.WebhookSecret},
		{"PUBLIC_BASE_URL", c.PublicBaseURL},
		{"DEFAULT_COUNTRY_CODE", c.DefaultCountryCode},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if _, err := strconv.ParseUint(c.DefaultCountryCode, 10, 16); err != nil || len(c.DefaultCountryCode) > 3 {
		return fmt.Errorf("DEFAULT_COUNTRY_CODE must be 1-3 digits, got %q", c.DefaultCountryCode)
	}
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.PublicBaseURL)
	}
	if c.BatchCallsPerSecond <= 0 {
		return fmt.Errorf("BATCH_CALLS_PER_SECOND must be positive")
	}

	return nil
}

// RedisEnabled reports whether a Redis host is configured
func (c *DialerConfig) RedisEnabled() bool {
	return c.RedisHost != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
