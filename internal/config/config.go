// Package config handles configuration loading for flume. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/flumehq/flume/pkg/models"
)

// Config holds all configuration for flume.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Refinement   RefinementConfig   `mapstructure:"refinement"`
	State        StateConfig        `mapstructure:"state"`
	Providers    []ProviderConfig   `mapstructure:"providers"`
}

// AnthropicConfig holds Anthropic API settings shared by every
// anthropic-kind provider.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ProviderConfig declares one capability provider. Tier bindings are
// configuration, not code.
type ProviderConfig struct {
	// ID is the provider's unique identity.
	ID string `mapstructure:"id"`
	// Kind selects the backend: "static" or "anthropic".
	Kind string `mapstructure:"kind"`
	// Tier is the quality/cost class the provider serves.
	Tier string `mapstructure:"tier"`
	// CostPerUnit is the cost charged per unit of work.
	CostPerUnit float64 `mapstructure:"cost_per_unit"`
	// Model is the backend model name for anthropic providers.
	Model string `mapstructure:"model"`
	// MaxTokens caps the response size for anthropic providers.
	MaxTokens int `mapstructure:"max_tokens"`
}

// ExecutorConfig holds resilience tuning for provider invocations.
type ExecutorConfig struct {
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	OpenTimeout        time.Duration `mapstructure:"open_timeout"`
	RetryBudget        int           `mapstructure:"retry_budget"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	BucketCapacity     float64       `mapstructure:"bucket_capacity"`
	BucketRefillPerSec float64       `mapstructure:"bucket_refill_per_sec"`
	CrossTier          bool          `mapstructure:"cross_tier"`
}

// OrchestratorConfig holds graph scheduling settings.
type OrchestratorConfig struct {
	Mode       string `mapstructure:"mode"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

// RefinementConfig holds quality gating settings.
type RefinementConfig struct {
	QualityThreshold float64  `mapstructure:"quality_threshold"`
	MaxIterations    int      `mapstructure:"max_iterations"`
	Tiers            []string `mapstructure:"tiers"`
}

// StateConfig holds the local state mirror settings.
type StateConfig struct {
	// Enabled turns the sqlite mirror on.
	Enabled bool `mapstructure:"enabled"`
	// Path is the database file location. Empty means the default
	// under the user data directory.
	Path string `mapstructure:"path"`
}

// TierLadder resolves the refinement ladder to typed tiers, falling
// back to the full order when unset.
func (rc RefinementConfig) TierLadder() ([]models.Tier, error) {
	if len(rc.Tiers) == 0 {
		return models.TierOrder, nil
	}
	out := make([]models.Tier, 0, len(rc.Tiers))
	for _, s := range rc.Tiers {
		t := models.Tier(s)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown tier %q in refinement ladder", s)
		}
		out = append(out, t)
	}
	return out, nil
}

// Validate checks the parts of the config the loader cannot.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case "static", "anthropic":
		default:
			return fmt.Errorf("provider %s: unknown kind %q", p.ID, p.Kind)
		}
		if !models.Tier(p.Tier).Valid() {
			return fmt.Errorf("provider %s: unknown tier %q", p.ID, p.Tier)
		}
		if p.Kind == "anthropic" && p.Model == "" {
			return fmt.Errorf("provider %s: anthropic providers need a model", p.ID)
		}
	}

	switch c.Orchestrator.Mode {
	case "sequential", "parallel", "adaptive", "iterative":
	default:
		return fmt.Errorf("unknown orchestrator mode %q", c.Orchestrator.Mode)
	}

	if _, err := c.Refinement.TierLadder(); err != nil {
		return err
	}
	return nil
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.flume.yaml in current directory or parent)
// 3. User config (~/.config/flume/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// StatePath resolves the sqlite mirror location.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	return filepath.Join(getUserConfigDir(), "state.db")
}

// setDefaults configures built-in default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("executor.failure_threshold", 5)
	v.SetDefault("executor.open_timeout", "30s")
	v.SetDefault("executor.retry_budget", 2)
	v.SetDefault("executor.backoff_base", "200ms")
	v.SetDefault("executor.backoff_max", "10s")
	v.SetDefault("executor.bucket_capacity", 0)
	v.SetDefault("executor.bucket_refill_per_sec", 0)
	v.SetDefault("executor.cross_tier", true)

	v.SetDefault("orchestrator.mode", "adaptive")
	v.SetDefault("orchestrator.max_workers", 4)

	v.SetDefault("refinement.quality_threshold", 0.8)
	v.SetDefault("refinement.max_iterations", 3)

	v.SetDefault("state.enabled", false)
	v.SetDefault("state.path", "")

	v.SetDefault("providers", []map[string]interface{}{
		{"id": "local-echo", "kind": "static", "tier": "economy", "cost_per_unit": 0.0},
	})
}

// getUserConfigDir returns the XDG config directory for flume.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flume")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "flume")
	}
	return filepath.Join(home, ".config", "flume")
}

// findProjectConfig searches for .flume.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".flume.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Executor: ExecutorConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			RetryBudget:      2,
			BackoffBase:      200 * time.Millisecond,
			BackoffMax:       10 * time.Second,
			CrossTier:        true,
		},
		Orchestrator: OrchestratorConfig{
			Mode:       "adaptive",
			MaxWorkers: 4,
		},
		Refinement: RefinementConfig{
			QualityThreshold: 0.8,
			MaxIterations:    3,
		},
		Providers: []ProviderConfig{
			{ID: "local-echo", Kind: "static", Tier: "economy"},
		},
	}
}
