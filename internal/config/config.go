package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the prescreen voice agent
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Remote realtime speech service
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY" required:"true"`
	RealtimeModel   string `envconfig:"REALTIME_MODEL" default:"gpt-4o-realtime-preview"`
	RealtimeVoice   string `envconfig:"REALTIME_VOICE" default:"alloy"`
	RealtimeBaseURL string `envconfig:"REALTIME_BASE_URL" default:"https://api.openai.com/v1/realtime"`

	// Session credential exchange endpoint; one short-lived token per negotiation
	CredentialURL string `envconfig:"CREDENTIAL_URL" default:"https://api.openai.com/v1/realtime/sessions"`

	// Transport selection: "webrtc" (media + data channel) or "websocket" (fallback)
	RealtimeTransport string `envconfig:"REALTIME_TRANSPORT" default:"webrtc"`

	// Local transcription/translation service (fallback transcript path)
	TranscriptionURL      string `envconfig:"TRANSCRIPTION_URL" required:"true"`
	TranscriptionLanguage string `envconfig:"TRANSCRIPTION_LANGUAGE" default:"en"`

	// Prognosis validation service; receives the prescreen report at session end
	ReportURL string `envconfig:"REPORT_URL" required:"true"`

	// Audio processing configuration
	SampleRate         int     `envconfig:"SAMPLE_RATE" default:"8000"`        // PCMU wire rate
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"16384"` // Playback ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`

	// Termination protocol timing
	ConfirmPollInterval time.Duration `envconfig:"CONFIRM_POLL_INTERVAL" default:"500ms"`
	ConfirmTimeout      time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"10s"`
	GraceDelay          time.Duration `envconfig:"GRACE_DELAY" default:"2s"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.TranscriptionURL == "" {
		return fmt.Errorf("TRANSCRIPTION_URL is required")
	}
	if c.ReportURL == "" {
		return fmt.Errorf("REPORT_URL is required")
	}
	switch c.RealtimeTransport {
	case "webrtc", "websocket":
	default:
		return fmt.Errorf("REALTIME_TRANSPORT must be \"webrtc\" or \"websocket\", got %q", c.RealtimeTransport)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	return nil
}
