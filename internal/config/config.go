// CLAUDE:SUMMARY TOML configuration: server, database, auth, entropy source, history retention, rate limit, logging
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hazyhaar/horosrand/internal/entropy"
	"github.com/hazyhaar/horosrand/internal/history"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	Entropy   EntropyConfig   `toml:"entropy"`
	History   HistoryConfig   `toml:"history"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Log       LogConfig       `toml:"log"`
	MCP       MCPConfig       `toml:"mcp"`
	Instance  InstanceConfig  `toml:"instance"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	HTTP3Addr string `toml:"http3_addr"` // empty = HTTP/3 disabled
	CertFile  string `toml:"cert_file"`
	KeyFile   string `toml:"key_file"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

type EntropyConfig struct {
	Source   string `toml:"source"` // "system" or "chacha20"
	RawBytes int    `toml:"raw_bytes"`
}

type HistoryConfig struct {
	MaxEntries int `toml:"max_entries"`
}

type RateLimitConfig struct {
	GeneratePerMinute int `toml:"generate_per_minute"` // 0 = unlimited
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

type InstanceConfig struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Revision uint64 `toml:"revision"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/horosrand.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		Entropy: EntropyConfig{
			Source:   entropy.KindSystem,
			RawBytes: entropy.DefaultRawBytes,
		},
		History: HistoryConfig{
			MaxEntries: history.MaxEntries,
		},
		RateLimit: RateLimitConfig{
			GeneratePerMinute: 600,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Instance: InstanceConfig{
			ID:   "local",
			Name: "horosrand-local",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Entropy.Source {
	case entropy.KindSystem, entropy.KindChaCha20:
	default:
		errs = append(errs, fmt.Errorf("entropy.source: unknown source %q", c.Entropy.Source))
	}
	if c.Entropy.RawBytes < 8 {
		errs = append(errs, fmt.Errorf("entropy.raw_bytes: must be at least 8, got %d", c.Entropy.RawBytes))
	}
	if c.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("history.max_entries: must not be negative, got %d", c.History.MaxEntries))
	}
	if c.RateLimit.GeneratePerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.generate_per_minute: must not be negative, got %d", c.RateLimit.GeneratePerMinute))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: want text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
