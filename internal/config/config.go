// Package config loads and saves the prospector engine configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration.
type Config struct {
	// DefaultBudget caps a single analysis run's spend unless overridden.
	DefaultBudget float64 `yaml:"default_budget"`
	// BudgetLimit is the account-level spend ceiling across all runs;
	// zero means unlimited.
	BudgetLimit float64 `yaml:"budget_limit"`
	// AlertThresholdPct is the budget percentage that triggers alerts.
	AlertThresholdPct float64 `yaml:"alert_threshold_pct"`
	// Strategy is the default cost optimization strategy:
	// cost, speed, quality or balanced.
	Strategy string `yaml:"strategy"`
	// MaxConcurrency bounds how many tasks run at once within a plan.
	MaxConcurrency int `yaml:"max_concurrency"`
	// Connector selects the task runner: auto, actorhub or dryrun.
	// auto uses the actor hub when an API token is available.
	Connector string `yaml:"connector"`
	// HubBaseURL is the actor hub API endpoint.
	HubBaseURL string `yaml:"hub_base_url"`
	// DBPath locates the SQLite database.
	DBPath string `yaml:"db_path"`
	// JournalPath locates the JSONL decision journal.
	JournalPath string `yaml:"journal_path"`
	// TaskTypeDir holds extra task type definitions (YAML/JSON), loaded
	// over the built-in catalog.
	TaskTypeDir string `yaml:"task_type_dir,omitempty"`
}

// Dir returns the prospector home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prospector"
	}
	return filepath.Join(home, ".prospector")
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		DefaultBudget:     50.0,
		BudgetLimit:       0,
		AlertThresholdPct: 80.0,
		Strategy:          "balanced",
		MaxConcurrency:    5,
		Connector:         "auto",
		HubBaseURL:        "https://api.actorhub.io",
		DBPath:            filepath.Join(dir, "prospector.db"),
		JournalPath:       filepath.Join(dir, "journal.jsonl"),
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadFromHome loads configuration from ~/.prospector/config.yaml.
func LoadFromHome() (*Config, error) {
	return Load(Path())
}

// Save saves configuration to a YAML file, creating parent directories if
// needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// SaveToHome saves configuration to ~/.prospector/config.yaml.
func SaveToHome(cfg *Config) error {
	return Save(Path(), cfg)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DefaultBudget < 0 {
		return fmt.Errorf("default_budget cannot be negative")
	}
	if c.BudgetLimit < 0 {
		return fmt.Errorf("budget_limit cannot be negative")
	}
	if c.AlertThresholdPct < 0 || c.AlertThresholdPct > 100 {
		return fmt.Errorf("alert_threshold_pct must be between 0 and 100")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}

	validStrategies := map[string]bool{
		"cost":     true,
		"speed":    true,
		"quality":  true,
		"balanced": true,
	}
	if !validStrategies[c.Strategy] {
		return fmt.Errorf("invalid strategy %q, must be: cost, speed, quality or balanced", c.Strategy)
	}

	validConnectors := map[string]bool{
		"auto":     true,
		"actorhub": true,
		"dryrun":   true,
	}
	if !validConnectors[c.Connector] {
		return fmt.Errorf("invalid connector %q, must be: auto, actorhub or dryrun", c.Connector)
	}

	return nil
}
