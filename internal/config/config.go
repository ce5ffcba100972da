// ABOUTME: Configuration loading and parsing for mcp-dispatch
// ABOUTME: YAML file with ${VAR} expansion, then MCP_* environment overrides via envconfig

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Server modes
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// MinSecretLength is the minimum accepted length of auth.jwt_secret.
const MinSecretLength = 32

// Config represents the complete mcp-dispatch configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Events   EventsConfig   `yaml:"events"`
	Database DatabaseConfig `yaml:"database"`
	Builtins BuiltinsConfig `yaml:"builtins"`
}

// ServerConfig holds listener and request handling configuration
type ServerConfig struct {
	Host         string `yaml:"host" envconfig:"MCP_HOST"`
	Port         int    `yaml:"port" envconfig:"MCP_PORT"`
	Prefix       string `yaml:"prefix" envconfig:"MCP_PREFIX"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" envconfig:"MCP_MAX_BODY_BYTES"`
	Mode         string `yaml:"mode" envconfig:"MCP_MODE"`

	ShutdownTimeout    time.Duration `yaml:"-" envconfig:"MCP_SHUTDOWN_TIMEOUT"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" ignored:"true"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Development reports whether stack traces may be exposed to clients.
func (s ServerConfig) Development() bool {
	return s.Mode == ModeDevelopment
}

// AuthConfig holds token verification configuration.
// An empty JWTSecret disables authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"MCP_JWT_SECRET"`
	Issuer    string `yaml:"issuer" envconfig:"MCP_JWT_ISSUER"`
	Audience  string `yaml:"audience" envconfig:"MCP_JWT_AUDIENCE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"MCP_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"MCP_LOG_FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"MCP_METRICS_ENABLED"`
	Path    string `yaml:"path" envconfig:"MCP_METRICS_PATH"`
}

// EventsConfig selects the lifecycle event publisher.
// With neither NATSURL nor Embedded set, events are discarded.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" envconfig:"MCP_NATS_URL"`
	Embedded      bool   `yaml:"embedded" envconfig:"MCP_NATS_EMBEDDED"`
	Port          int    `yaml:"port" envconfig:"MCP_NATS_PORT"`
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"MCP_EVENTS_SUBJECT"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"MCP_DB_PATH"`
}

// BuiltinsConfig toggles the agents shipped with the binary.
type BuiltinsConfig struct {
	Notes bool `yaml:"notes" envconfig:"MCP_NOTES_ENABLED"`
}

// Default returns the configuration used when no file or environment overrides are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			Prefix:          "/api/v1",
			MaxBodyBytes:    10 << 20,
			Mode:            ModeProduction,
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Events: EventsConfig{
			Port:          4222,
			SubjectPrefix: "mcp.events",
		},
		Database: DatabaseConfig{
			Path: "data/mcp.db",
		},
		Builtins: BuiltinsConfig{
			Notes: true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and MCP_* environment variables, in that order.
// Environment variables in the format ${VAR_NAME} inside the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expandedData := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays MCP_* variables section by section. Unset variables
// leave the file or default value untouched.
func applyEnv(cfg *Config) error {
	sections := []any{
		&cfg.Server,
		&cfg.Auth,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.Events,
		&cfg.Database,
		&cfg.Builtins,
	}
	for _, s := range sections {
		if err := envconfig.Process("", s); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if !strings.HasPrefix(c.Server.Prefix, "/") || strings.HasSuffix(c.Server.Prefix, "/") {
		return fmt.Errorf("server.prefix %q must start with '/' and not end with '/'", c.Server.Prefix)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	switch c.Server.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("server.mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Server.Mode)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", MinSecretLength)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with '/'", c.Metrics.Path)
	}

	if c.Builtins.Notes && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when builtins.notes is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Server.ShutdownTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
		cfg.Server.ShutdownTimeout = d
	}
	return nil
}
