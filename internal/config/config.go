package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Botyard control plane.
type Config struct {
	Port         int
	Version      string
	DataDir      string
	Orchestrator OrchestratorConfig
	Retention    RetentionConfig
	Telemetry    TelemetryConfig
}

// OrchestratorConfig tunes the periodic loops and pacing limits.
type OrchestratorConfig struct {
	// Tick intervals for the three periodic processes.
	AssignInterval time.Duration
	InviteInterval time.Duration
	SweepInterval  time.Duration

	// InviteCooldown is the minimum spacing between friend requests
	// from the same bot.
	InviteCooldown time.Duration

	// ScriptDelay is the pause before each non-first scripted message.
	ScriptDelay time.Duration

	// Scripted runs send between ScriptMinMessages and ScriptMaxMessages
	// messages, inclusive.
	ScriptMinMessages int
	ScriptMaxMessages int

	// MessageRate / MessageBurst bound outbound scripted messages across
	// all bots (token bucket, messages per second).
	MessageRate  float64
	MessageBurst int
}

// RetentionConfig tunes the retention janitor.
type RetentionConfig struct {
	// Interval between retention sweeps.
	Interval time.Duration

	// Window is how long terminal tasks stay in the hot store after
	// their last update.
	Window time.Duration

	// ArchiveDir is where purged data is archived as JSONL. Empty means
	// the default under the user's home directory.
	ArchiveDir string

	// Compress gzips archive files.
	Compress bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("BOTYARD_PORT", 8080),
		Version: envStr("BOTYARD_VERSION", "0.2.0"),
		DataDir: envStr("BOTYARD_DATA_DIR", ""),
		Orchestrator: OrchestratorConfig{
			AssignInterval:    envDuration("BOTYARD_ASSIGN_INTERVAL", 5*time.Second),
			InviteInterval:    envDuration("BOTYARD_INVITE_INTERVAL", 10*time.Second),
			SweepInterval:     envDuration("BOTYARD_SWEEP_INTERVAL", 15*time.Second),
			InviteCooldown:    envDuration("BOTYARD_INVITE_COOLDOWN", 60*time.Second),
			ScriptDelay:       envDuration("BOTYARD_SCRIPT_DELAY", 4*time.Second),
			ScriptMinMessages: envInt("BOTYARD_SCRIPT_MIN_MESSAGES", 3),
			ScriptMaxMessages: envInt("BOTYARD_SCRIPT_MAX_MESSAGES", 5),
			MessageRate:       envFloat("BOTYARD_MESSAGE_RATE", 2),
			MessageBurst:      envInt("BOTYARD_MESSAGE_BURST", 4),
		},
		Retention: RetentionConfig{
			Interval:   envDuration("BOTYARD_RETENTION_INTERVAL", time.Hour),
			Window:     envDuration("BOTYARD_RETENTION_WINDOW", 30*24*time.Hour),
			ArchiveDir: envStr("BOTYARD_ARCHIVE_DIR", ""),
			Compress:   envBool("BOTYARD_ARCHIVE_COMPRESS", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "botyard-control-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
