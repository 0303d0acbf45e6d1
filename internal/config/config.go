package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the intake client.
type Config struct {
	Backend  BackendConfig
	Ultravox UltravoxConfig
	Audio    AudioConfig
	Session  SessionConfig
}

type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	SubmitTimeout  time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
}

type UltravoxConfig struct {
	ExperimentalMessages bool
	JoinTimeout          time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type SessionConfig struct {
	ChunkSize            int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	SnapshotMaxAge       time.Duration
	SnapshotDir          string
	MinTranscriptChars   int
	CompletionGrace      time.Duration
}

// Load resolves configuration from a .env file (when present) and
// environment variables, with defaults suited to a local backend.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Backend: BackendConfig{
			BaseURL:        envOrDefault("MEDINTAKE_BACKEND_URL", "http://localhost:8000"),
			RequestTimeout: envOrDefaultDuration("MEDINTAKE_REQUEST_TIMEOUT", 20*time.Second),
			SubmitTimeout:  envOrDefaultDuration("MEDINTAKE_SUBMIT_TIMEOUT", 3*time.Minute),
			MaxAttempts:    envOrDefaultInt("MEDINTAKE_HTTP_MAX_ATTEMPTS", 3),
			RetryBase:      envOrDefaultDuration("MEDINTAKE_HTTP_RETRY_BASE", 500*time.Millisecond),
		},
		Ultravox: UltravoxConfig{
			ExperimentalMessages: envOrDefaultBool("MEDINTAKE_EXPERIMENTAL_MESSAGES", true),
			JoinTimeout:          envOrDefaultDuration("MEDINTAKE_JOIN_TIMEOUT", 15*time.Second),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("MEDINTAKE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("MEDINTAKE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("MEDINTAKE_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("MEDINTAKE_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("MEDINTAKE_CHANNELS", 1),
		},
		Session: SessionConfig{
			ChunkSize:            envOrDefaultInt("MEDINTAKE_AUDIO_CHUNK_SIZE", 4096),
			HeartbeatInterval:    envOrDefaultDuration("MEDINTAKE_HEARTBEAT_INTERVAL", 30*time.Second),
			HeartbeatTimeout:     envOrDefaultDuration("MEDINTAKE_HEARTBEAT_TIMEOUT", 10*time.Second),
			ReconnectMaxAttempts: envOrDefaultInt("MEDINTAKE_RECONNECT_MAX_ATTEMPTS", 5),
			ReconnectBaseDelay:   envOrDefaultDuration("MEDINTAKE_RECONNECT_BASE_DELAY", time.Second),
			SnapshotMaxAge:       envOrDefaultDuration("MEDINTAKE_SNAPSHOT_MAX_AGE", 5*time.Minute),
			SnapshotDir:          strings.TrimSpace(os.Getenv("MEDINTAKE_SNAPSHOT_DIR")),
			MinTranscriptChars:   envOrDefaultInt("MEDINTAKE_MIN_TRANSCRIPT_CHARS", 30),
			CompletionGrace:      envOrDefaultDuration("MEDINTAKE_COMPLETION_GRACE", 2*time.Second),
		},
	}

	if cfg.Backend.MaxAttempts <= 0 {
		cfg.Backend.MaxAttempts = 3
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.ReconnectMaxAttempts <= 0 {
		cfg.Session.ReconnectMaxAttempts = 5
	}
	if cfg.Session.MinTranscriptChars < 0 {
		cfg.Session.MinTranscriptChars = 0
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
