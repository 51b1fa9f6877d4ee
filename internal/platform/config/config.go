// Package config loads application configuration from environment variables.
// All variables use the LEARN_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Cache        CacheConfig
	Backend      BackendConfig
	Poll         PollConfig
	Gate         GateConfig
	Orchestrator OrchestratorConfig
	Log          LogConfig
	FixturesPath string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL keeps
// snapshots and events in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL
// disables the snapshot cache.
type CacheConfig struct {
	URL         string
	SnapshotTTL time.Duration
}

// BackendConfig holds settings for the remote learning backend.
type BackendConfig struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
}

// PollConfig holds video status polling settings.
type PollConfig struct {
	Interval  time.Duration
	MaxErrors int
}

// GateConfig holds module unlocking policy.
type GateConfig struct {
	PassPercent        int
	EmptyModuleUnlocks bool
}

// OrchestratorConfig holds request overlap settings.
type OrchestratorConfig struct {
	Overlap string // "supersede" or "reject"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with LEARN_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("LEARN_SERVER_PORT", 8080),
			Host: envStr("LEARN_SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			URL:      envStr("LEARN_DATABASE_URL", ""),
			MaxConns: envInt("LEARN_DATABASE_MAX_CONNS", 25),
			MinConns: envInt("LEARN_DATABASE_MIN_CONNS", 5),
		},
		Cache: CacheConfig{
			URL:         envStr("LEARN_CACHE_URL", ""),
			SnapshotTTL: envDuration("LEARN_CACHE_SNAPSHOT_TTL", 30*time.Minute),
		},
		Backend: BackendConfig{
			URL:            envStr("LEARN_BACKEND_URL", ""),
			Token:          envStr("LEARN_BACKEND_TOKEN", ""),
			RequestTimeout: envDuration("LEARN_BACKEND_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Poll: PollConfig{
			Interval:  envDuration("LEARN_POLL_INTERVAL", 5*time.Second),
			MaxErrors: envInt("LEARN_POLL_MAX_ERRORS", 5),
		},
		Gate: GateConfig{
			PassPercent:        envInt("LEARN_GATE_PASS_PERCENT", 80),
			EmptyModuleUnlocks: envBool("LEARN_GATE_EMPTY_MODULE_UNLOCKS", true),
		},
		Orchestrator: OrchestratorConfig{
			Overlap: envStr("LEARN_ORCHESTRATOR_OVERLAP", "supersede"),
		},
		Log: LogConfig{
			Level:  envStr("LEARN_LOG_LEVEL", "info"),
			Format: envStr("LEARN_LOG_FORMAT", "json"),
		},
		FixturesPath: envStr("LEARN_FIXTURES_PATH", ""),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Backend.URL == "" && c.FixturesPath == "" {
		return fmt.Errorf("LEARN_BACKEND_URL or LEARN_FIXTURES_PATH is required")
	}

	if c.Gate.PassPercent < 1 || c.Gate.PassPercent > 100 {
		return fmt.Errorf("LEARN_GATE_PASS_PERCENT must be between 1 and 100, got %d", c.Gate.PassPercent)
	}

	if c.Orchestrator.Overlap != "supersede" && c.Orchestrator.Overlap != "reject" {
		return fmt.Errorf("LEARN_ORCHESTRATOR_OVERLAP must be 'supersede' or 'reject', got %q", c.Orchestrator.Overlap)
	}

	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("LEARN_BACKEND_REQUEST_TIMEOUT must be positive")
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("LEARN_POLL_INTERVAL must be positive")
	}

	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

// envDuration accepts Go duration strings ("30s") or plain seconds ("30").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return fallback
}
