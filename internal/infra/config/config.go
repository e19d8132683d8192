// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"parley/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Chat    ChatConfig    `yaml:"chat"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// GatewayConfig holds connection settings for the conversation backend.
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIKey supports ${ENV_VAR} expansion.
	APIKey            string        `yaml:"api_key"`
	ConnTimeout       time.Duration `yaml:"conn_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// ChatConfig holds the submission defaults.
type ChatConfig struct {
	ModelID        string `yaml:"model_id"`
	AgentType      string `yaml:"agent_type"`
	AutonomousMode bool   `yaml:"autonomous_mode"`
	ConversationID int64  `yaml:"conversation_id"` // 0 = start a new conversation
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or noop
}

// Defaults returns a configuration with sensible defaults.
func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:        "http://localhost:8080",
			ConnTimeout:    10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Chat: ChatConfig{
			AgentType: "chat",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a yaml config file, falling back to defaults when the file
// does not exist. Environment references in the api key are expanded.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfigLoad, path, err)
	}

	cfg.Gateway.APIKey = expandEnv(cfg.Gateway.APIKey)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		return os.Getenv(name)
	})
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func Validate(cfg *Config) error {
	if cfg.Gateway.BaseURL == "" {
		return fmt.Errorf("%w: gateway.base_url is required", domain.ErrConfigLoad)
	}
	if cfg.Gateway.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: gateway.requests_per_second must not be negative", domain.ErrConfigLoad)
	}
	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown logger.level %q", domain.ErrConfigLoad, cfg.Logger.Level)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("%w: unknown tracer.exporter %q", domain.ErrConfigLoad, cfg.Tracer.Exporter)
	}
	return nil
}
