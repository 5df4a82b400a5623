package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the engine's environment-driven configuration.
type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	// IdentityBaseURL points at the identity provider's HTTP surface.
	// Empty means the caller wires an identity.Provider directly.
	IdentityBaseURL string

	// HostGracePeriod is how long a host may stay offline before the
	// presence coordinator declares it gone and elects a successor.
	HostGracePeriod time.Duration

	// PresenceTTL bounds how long a presence record outlives its last
	// heartbeat in the real-time store.
	PresenceTTL time.Duration

	// RoomTTL caps how long ephemeral room state lingers in the store.
	RoomTTL time.Duration

	DefaultTimePerQuestion int
	AllowLateJoin          bool

	MessageOverrideDir string
}

// Load reads configuration from the environment. REDIS_URL is the only
// hard requirement; everything else has a serviceable default.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HostGracePeriod:        10 * time.Second,
		PresenceTTL:            45 * time.Second,
		RoomTTL:                24 * time.Hour,
		DefaultTimePerQuestion: 30,
		AllowLateJoin:          true,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.IdentityBaseURL = strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_TEMPLATE_DIR"))

	if v := strings.TrimSpace(os.Getenv("HOST_GRACE_PERIOD")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HostGracePeriod = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("PRESENCE_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PresenceTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RoomTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("TIME_PER_QUESTION")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultTimePerQuestion = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOW_LATE_JOIN")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowLateJoin = b
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}
