// Package config handles Keel configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights is the single named configuration surface for the prioritization
// signal weights. The three values must sum to 1.0.
type Weights struct {
	Goal      float64 `yaml:"goal"`
	Deadline  float64 `yaml:"deadline"`
	Wellbeing float64 `yaml:"wellbeing"`
}

// ReasoningConfig holds the reasoning engine client settings
type ReasoningConfig struct {
	Model             string   `yaml:"model"`
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"-"` // environment only, never from file
	MaxAttempts       int      `yaml:"max_attempts"`
	BaseDelay         Duration `yaml:"base_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

// SourceConfig describes one external signal feed
type SourceConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// WebhookConfig describes one outbound notification endpoint
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// JobIntervals holds the per-job scheduling cadences
type JobIntervals struct {
	EmailIngestion    Duration `yaml:"email_ingestion"`
	CalendarIngestion Duration `yaml:"calendar_ingestion"`
	TrackerIngestion  Duration `yaml:"tracker_ingestion"`
	StatusOverview    Duration `yaml:"status_overview"`
	Prioritization    Duration `yaml:"prioritization"`
}

// Config holds Keel configuration
type Config struct {
	LogLevel      string                  `yaml:"log_level"`
	DatabasePath  string                  `yaml:"database"`
	Listen        string                  `yaml:"listen"`
	Reasoning     ReasoningConfig         `yaml:"reasoning"`
	ContextBudget int                     `yaml:"context_budget"` // max runes per reasoning bundle
	Weights       Weights                 `yaml:"weights"`
	Jobs          JobIntervals            `yaml:"jobs"`
	Sources       map[string]SourceConfig `yaml:"sources"`
	Webhooks      []WebhookConfig         `yaml:"webhooks"`
}

// Default returns the built-in configuration. The cadences match the
// original deployment: daily email, hourly calendar, tracker every 30
// minutes, overviews every 12 hours, prioritization every 30 minutes.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		DatabasePath: filepath.Join(".keel", "keel.db"),
		Listen:       ":8844",
		Reasoning: ReasoningConfig{
			Model:             "claude-3-opus-20240229",
			BaseURL:           "https://api.anthropic.com",
			MaxAttempts:       4,
			BaseDelay:         Duration(2 * time.Second),
			MaxDelay:          Duration(30 * time.Second),
			RequestsPerMinute: 20,
		},
		ContextBudget: 48000,
		Weights: Weights{
			Goal:      0.4,
			Deadline:  0.3,
			Wellbeing: 0.3,
		},
		Jobs: JobIntervals{
			EmailIngestion:    Duration(24 * time.Hour),
			CalendarIngestion: Duration(time.Hour),
			TrackerIngestion:  Duration(30 * time.Minute),
			StatusOverview:    Duration(12 * time.Hour),
			Prioritization:    Duration(30 * time.Minute),
		},
		Sources: map[string]SourceConfig{},
	}
}

// Load reads configuration from the given YAML file, falling back to defaults
// when the file is absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults are fine
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as subtle runtime bugs
func (c *Config) Validate() error {
	sum := c.Weights.Goal + c.Weights.Deadline + c.Weights.Wellbeing
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("prioritization weights must sum to 1.0, got %.3f", sum)
	}
	if c.Reasoning.MaxAttempts < 1 {
		return fmt.Errorf("reasoning.max_attempts must be at least 1")
	}
	if c.Reasoning.BaseDelay <= 0 || c.Reasoning.MaxDelay < c.Reasoning.BaseDelay {
		return fmt.Errorf("reasoning delays invalid: base=%s max=%s", c.Reasoning.BaseDelay, c.Reasoning.MaxDelay)
	}
	if c.ContextBudget <= 0 {
		return fmt.Errorf("context_budget must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KEEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KEEL_DATABASE"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("KEEL_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("KEEL_REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("KEEL_REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("KEEL_REASONING_MAX_ATTEMPTS"); v != "" {
		cfg.Reasoning.MaxAttempts = parseIntOrDefault(v, cfg.Reasoning.MaxAttempts)
	}
	if v := os.Getenv("KEEL_REASONING_BASE_DELAY"); v != "" {
		cfg.Reasoning.BaseDelay = Duration(parseDurationOrDefault(v, cfg.Reasoning.BaseDelay.Std()))
	}
	if v := os.Getenv("KEEL_REASONING_MAX_DELAY"); v != "" {
		cfg.Reasoning.MaxDelay = Duration(parseDurationOrDefault(v, cfg.Reasoning.MaxDelay.Std()))
	}
	if v := os.Getenv("KEEL_CONTEXT_BUDGET"); v != "" {
		cfg.ContextBudget = parseIntOrDefault(v, cfg.ContextBudget)
	}

	// The key is environment-only so it can never land in a config file
	// or a backup of one.
	if v := os.Getenv("KEEL_ANTHROPIC_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	} else if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
}

func parseIntOrDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
