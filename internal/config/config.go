package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"enumchron/internal/enumchron"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "enumchron.yaml"

// Config holds all enumchron configuration.
type Config struct {
	// Alma API access
	Alma AlmaConfig `yaml:"alma"`

	// Input/output files
	Files FilesConfig `yaml:"files"`

	// Batch behaviour
	Batch BatchConfig `yaml:"batch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Site rules tried before the built-in cascade
	Rules []RuleConfig `yaml:"rules,omitempty"`
}

// AlmaConfig configures the Alma API client.
type AlmaConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Timeout    string `yaml:"timeout"`
	Interval   string `yaml:"interval"`    // pacing between requests
	MaxRetries int    `yaml:"max_retries"` // attempts for network errors and 5xx
	UserAgent  string `yaml:"user_agent"`
}

// FilesConfig names the files the batch reads and writes.
type FilesConfig struct {
	Input    string `yaml:"input"`     // item export, rewritten with what remains
	Filled   string `yaml:"filled"`    // timestamped record of updated rows
	ErrorLog string `yaml:"error_log"` // per-row failures
	StateDir string `yaml:"state_dir"` // usage counters and the run ledger
	Database string `yaml:"database"`  // ledger path, defaults to <state_dir>/ledger.db
}

// BatchConfig configures a run.
type BatchConfig struct {
	Overwrite bool   `yaml:"overwrite"` // update items that already carry enum/chron
	Location  string `yaml:"location"`  // only rows with this location
	Limit     int    `yaml:"limit"`     // at most this many rows, 0 for all
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RuleConfig is a site-specific description rule.
type RuleConfig struct {
	Name       string `yaml:"name"`
	Pattern    string `yaml:"pattern"`
	Example    string `yaml:"example"`
	YearTrails bool   `yaml:"year_trails,omitempty"` // year follows a wrapping month range
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Alma: AlmaConfig{
			BaseURL:    "https://api-na.hosted.exlibrisgroup.com",
			Timeout:    "30s",
			Interval:   "100ms",
			MaxRetries: 3,
			UserAgent:  "enumchron",
		},
		Files: FilesConfig{
			Input:    "FullItemList.csv",
			Filled:   "FilledEnumChron.csv",
			ErrorLog: "enumchron_errors.log",
			StateDir: ".enumchron",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ALMA_API_KEY"); key != "" {
		c.Alma.APIKey = key
	}
	if u := os.Getenv("ALMA_BASE_URL"); u != "" {
		c.Alma.BaseURL = u
	}
	if path := os.Getenv("ENUMCHRON_DB"); path != "" {
		c.Files.Database = path
	}
}

// GetTimeout returns the API request timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Alma.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetInterval returns the pacing between API requests as a duration.
func (c *Config) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Alma.Interval)
	if err != nil || d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

// DatabasePath returns the ledger path.
func (c *Config) DatabasePath() string {
	if c.Files.Database != "" {
		return c.Files.Database
	}
	return filepath.Join(c.Files.StateDir, "ledger.db")
}

// Validate validates the configuration needed to talk to Alma.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Alma.APIKey) == "" {
		return fmt.Errorf("Alma API key not configured (set ALMA_API_KEY, alma.api_key or --api-key)")
	}

	u, err := url.Parse(c.Alma.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid Alma base URL: %q", c.Alma.BaseURL)
	}

	if c.Files.Input == "" {
		return fmt.Errorf("input file not configured")
	}
	if c.Files.Filled == "" {
		return fmt.Errorf("filled file not configured")
	}
	if filepath.Clean(c.Files.Input) == filepath.Clean(c.Files.Filled) {
		return fmt.Errorf("input and filled files must differ: %s", c.Files.Input)
	}
	if c.Batch.Limit < 0 {
		return fmt.Errorf("batch limit must not be negative: %d", c.Batch.Limit)
	}

	return nil
}

// CompileRules compiles the configured site rules.
func (c *Config) CompileRules() ([]*enumchron.Rule, error) {
	rules := make([]*enumchron.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("site-%d", i+1)
		}
		rule, err := enumchron.NewRule(name, rc.Pattern, rc.Example, rc.YearTrails)
		if err != nil {
			return nil, fmt.Errorf("invalid rule %q: %w", name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Cascade returns the site rules followed by the built-in cascade.
func (c *Config) Cascade() (*enumchron.Cascade, error) {
	rules, err := c.CompileRules()
	if err != nil {
		return nil, err
	}
	return enumchron.DefaultCascade().Prepend(rules...), nil
}
