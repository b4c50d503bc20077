// ABOUTME: Configuration loading and parsing for the Slack-OpenHands bridge.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete bridge configuration.
type Config struct {
	Slack     SlackConfig     `yaml:"slack"`
	OpenHands OpenHandsConfig `yaml:"openhands"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SlackConfig holds Slack socket-mode credentials and channel filtering.
type SlackConfig struct {
	AppToken        string   `yaml:"app_token"`
	BotToken        string   `yaml:"bot_token"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// OpenHandsConfig holds the backend endpoint and the conversation
// configuration bundle sent on session creation.
type OpenHandsConfig struct {
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	ModelBaseURL string `yaml:"model_base_url"`
	APIKey       string `yaml:"api_key"`
	Agent        string `yaml:"agent"`
	GitHubToken  string `yaml:"github_token"`
}

// BridgeConfig holds the delivery protocol's timer bounds.
type BridgeConfig struct {
	ConnectTimeout time.Duration `yaml:"-"`
	ReadyTimeout   time.Duration `yaml:"-"`
	SettleDelay    time.Duration `yaml:"-"`
	FallbackDelay  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ConnectTimeoutRaw string `yaml:"connect_timeout"`
	ReadyTimeoutRaw   string `yaml:"ready_timeout"`
	SettleDelayRaw    string `yaml:"settle_delay"`
	FallbackDelayRaw  string `yaml:"fallback_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// duration strings are parsed, and defaults are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.OpenHands.BaseURL == "" {
		c.OpenHands.BaseURL = "http://localhost:3000"
	}
	if c.OpenHands.Model == "" {
		c.OpenHands.Model = "lm_studio/devstral-small-2505"
	}
	if c.OpenHands.ModelBaseURL == "" {
		c.OpenHands.ModelBaseURL = "http://host.docker.internal:1234/v1/"
	}
	if c.OpenHands.APIKey == "" {
		c.OpenHands.APIKey = "dummy-api-key"
	}
	if c.OpenHands.Agent == "" {
		c.OpenHands.Agent = "CodeActAgent"
	}
	if c.Bridge.ConnectTimeout == 0 {
		c.Bridge.ConnectTimeout = 5 * time.Second
	}
	if c.Bridge.ReadyTimeout == 0 {
		c.Bridge.ReadyTimeout = 120 * time.Second
	}
	if c.Bridge.SettleDelay == 0 {
		c.Bridge.SettleDelay = 5 * time.Second
	}
	if c.Bridge.FallbackDelay == 0 {
		c.Bridge.FallbackDelay = time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and
// well-formed. Returns the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Slack.AppToken == "" {
		return fmt.Errorf("slack.app_token is required")
	}
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required")
	}

	u, err := url.Parse(c.OpenHands.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("openhands.base_url must be a valid URL, got %q", c.OpenHands.BaseURL)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Bridge.ConnectTimeoutRaw, "connect_timeout", &cfg.Bridge.ConnectTimeout},
		{cfg.Bridge.ReadyTimeoutRaw, "ready_timeout", &cfg.Bridge.ReadyTimeout},
		{cfg.Bridge.SettleDelayRaw, "settle_delay", &cfg.Bridge.SettleDelay},
		{cfg.Bridge.FallbackDelayRaw, "fallback_delay", &cfg.Bridge.FallbackDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
