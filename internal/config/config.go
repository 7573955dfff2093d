// Package config loads triage server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fpang/patient-triage/internal/chat"
	"github.com/fpang/patient-triage/internal/pipeline"
)

// Config is the resolved server configuration.
type Config struct {
	Addr string

	ReasoningModel   string
	TranscribeModel  string
	TTSModel         string
	Voice            string
	ReasoningTimeout time.Duration
	ValidateKey      bool

	// InterimStages is how many stages an interim utterance runs through.
	InterimStages int

	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration
	WSMaxMessageBytes int64

	// InboundRPS and InboundBurst bound interim audio per connection.
	// Zero RPS disables the limit.
	InboundRPS   float64
	InboundBurst int

	VoiceEnabled  bool
	VoiceCacheTTL time.Duration
	SpeechTimeout time.Duration

	AWSEnabled     bool
	AlertEventBus  string
	APIKeyParam    string
	ShutdownGrace  time.Duration
	AllowedOrigins []string
}

// Load reads an optional .env file from the working directory, then builds the
// configuration from environment variables. Variables already set in the
// environment take precedence over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}
	return FromEnv()
}

// FromEnv builds and validates the configuration from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:              envOr("TRIAGE_ADDR", ":8080"),
		ReasoningModel:    chat.GetModelName(),
		TranscribeModel:   chat.GetTranscribeModel(),
		TTSModel:          chat.GetTTSModel(),
		Voice:             chat.GetVoice(),
		ReasoningTimeout:  envDurationOr("TRIAGE_REASONING_TIMEOUT", 10*time.Second),
		ValidateKey:       envBoolOr("TRIAGE_VALIDATE_KEY", true),
		InterimStages:     envIntOr("TRIAGE_INTERIM_STAGES", pipeline.InterimStageLimit),
		WSWriteTimeout:    envDurationOr("TRIAGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:    envDurationOr("TRIAGE_WS_PING_INTERVAL", 20*time.Second),
		WSMaxMessageBytes: envInt64Or("TRIAGE_WS_MAX_MESSAGE_BYTES", 8<<20),
		InboundRPS:        envFloat64Or("TRIAGE_INBOUND_RPS", 4),
		InboundBurst:      envIntOr("TRIAGE_INBOUND_BURST", 8),
		VoiceEnabled:      envBoolOr("TRIAGE_VOICE_ENABLED", true),
		VoiceCacheTTL:     envDurationOr("TRIAGE_VOICE_CACHE_TTL", chat.DefaultVoiceCacheTTL),
		SpeechTimeout:     envDurationOr("TRIAGE_SPEECH_TIMEOUT", 15*time.Second),
		AWSEnabled:        envBoolOr("TRIAGE_AWS_ENABLED", false),
		AlertEventBus:     envOr("TRIAGE_ALERT_EVENT_BUS", ""),
		APIKeyParam:       envOr("SSM_API_KEY_PARAM", ""),
		ShutdownGrace:     envDurationOr("TRIAGE_SHUTDOWN_GRACE", 30*time.Second),
		AllowedOrigins:    splitCSV(os.Getenv("TRIAGE_ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("TRIAGE_ADDR must not be empty")
	}
	if c.ReasoningTimeout <= 0 {
		return fmt.Errorf("TRIAGE_REASONING_TIMEOUT must be > 0")
	}
	if c.InterimStages < 1 {
		return fmt.Errorf("TRIAGE_INTERIM_STAGES must be >= 1")
	}
	if c.SpeechTimeout <= 0 {
		return fmt.Errorf("TRIAGE_SPEECH_TIMEOUT must be > 0")
	}
	if c.WSWriteTimeout <= 0 {
		return fmt.Errorf("TRIAGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("TRIAGE_WS_PING_INTERVAL must be > 0")
	}
	if c.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("TRIAGE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.InboundRPS < 0 {
		return fmt.Errorf("TRIAGE_INBOUND_RPS must be >= 0")
	}
	if c.InboundRPS > 0 && c.InboundBurst < 1 {
		return fmt.Errorf("TRIAGE_INBOUND_BURST must be >= 1 when TRIAGE_INBOUND_RPS is set")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("TRIAGE_SHUTDOWN_GRACE must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
