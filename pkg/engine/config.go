package engine

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/germanamz/lmchat/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	// Default names the provider used when a lookup passes no name. Empty
	// means the first provider.
	Default string         `yaml:"default_provider" env:"LMCHAT_PROVIDER"`
	Log     logging.Config `yaml:"log" envPrefix:"LMCHAT_LOG_"`
}

// ProviderConfig describes one backend instance.
type ProviderConfig struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model       string            `yaml:"model"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	Headers     map[string]string `yaml:"headers"`
	// ExtraKinds replaces the extra data kinds the backend accepts. Nil keeps
	// the backend's own list.
	ExtraKinds []string `yaml:"extra_kinds"`
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing, so API keys can stay in the environment (e.g. a .env file).
// LMCHAT_* variables then override the matching fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with LMCHAT_* environment variables. Unset
// variables leave fields untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("engine: env overrides: %w", err)
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	names := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, ok := getFactory(p.Kind); !ok {
			return fmt.Errorf("engine: config: provider %q: unknown kind %q", p.Name, p.Kind)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("engine: config: provider %q: max_tokens must not be negative", p.Name)
		}
		names[p.Name] = struct{}{}
	}

	if c.Default != "" {
		if _, ok := names[c.Default]; !ok {
			return fmt.Errorf("engine: config: default_provider %q not found in providers", c.Default)
		}
	}

	return nil
}
