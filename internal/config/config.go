// Package config loads and validates the condenser configuration.
//
// DESIGN: All configuration comes from YAML files with ${VAR:-default}
// environment expansion. Credentials are named by environment variable,
// never written inline. Every section is validated on load; a config
// that passes Load is safe to run with.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minsignal/condense/internal/oracle"
	"github.com/minsignal/condense/internal/refine"
	"github.com/minsignal/condense/internal/scoring"
)

// Duration wraps time.Duration so YAML can say "60s" instead of
// nanosecond integers.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a bare integer of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Oracles    OraclesConfig    `yaml:"oracles"`
	Scoring    scoring.Config   `yaml:"scoring"`
	Refine     refine.Config    `yaml:"refine"`
	Frontier   FrontierConfig   `yaml:"frontier"`
	Store      StoreConfig      `yaml:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// OracleClientConfig is the YAML shape of one chat-oracle endpoint. It
// converts to oracle.ClientConfig after credential resolution.
type OracleClientConfig struct {
	Provider  string   `yaml:"provider"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"` // AWS region, bedrock provider only
	APIKeyEnv string   `yaml:"api_key_env"`
	Model     string   `yaml:"model"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`

	apiKey string
}

// Client converts to the oracle package's config.
func (c OracleClientConfig) Client() oracle.ClientConfig {
	return oracle.ClientConfig{
		Provider:  c.Provider,
		Endpoint:  c.Endpoint,
		APIKey:    c.apiKey,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		Timeout:   c.Timeout.Std(),
		Retries:   c.Retries,
	}
}

// EmbeddingClientConfig is the YAML shape of the similarity oracle.
type EmbeddingClientConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Model     string   `yaml:"model"`
	Timeout   Duration `yaml:"timeout"`

	apiKey string
}

// Client converts to the oracle package's config.
func (c EmbeddingClientConfig) Client() oracle.EmbeddingConfig {
	return oracle.EmbeddingConfig{
		Endpoint: c.Endpoint,
		APIKey:   c.apiKey,
		Model:    c.Model,
		Timeout:  c.Timeout.Std(),
	}
}

// OraclesConfig wires the four external oracles. Offline mode replaces
// the LLM-backed ones with local fallbacks and needs no credentials.
type OraclesConfig struct {
	Offline bool `yaml:"offline"`

	Structure OracleClientConfig    `yaml:"structure"`
	Rewrite   OracleClientConfig    `yaml:"rewrite"`
	Analyzer  OracleClientConfig    `yaml:"analyzer"`
	Judge     EmbeddingClientConfig `yaml:"judge"`

	// TokenEncoding selects the BPE used for token accounting.
	TokenEncoding string `yaml:"token_encoding"`
	// CacheSize bounds the decomposition cache (trees).
	CacheSize int `yaml:"cache_size"`
}

// FrontierConfig tunes proxy-frontier construction.
type FrontierConfig struct {
	Targets []float64 `yaml:"targets"` // importance-ratio targets, empty means defaults
	Steps   int       `yaml:"steps"`   // budget sweep resolution
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	Path    string `yaml:"path"`     // SQLite file path, ":memory:" for ephemeral
	MaxRuns int    `yaml:"max_runs"` // prune threshold, 0 disables pruning
}

// MonitoringConfig contains logging settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console, auto
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path
}

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default} in s.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, expands env
// vars, resolves credentials, and validates.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := &Config{
		Scoring: scoring.DefaultConfig(),
		Refine:  refine.DefaultConfig(),
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.resolveCredentials()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveCredentials reads API keys from the environment variables the
// config names. Keys never appear in YAML directly.
func (c *Config) resolveCredentials() {
	resolve := func(env string) string {
		if env == "" {
			return ""
		}
		return os.Getenv(env)
	}
	c.Oracles.Structure.apiKey = resolve(c.Oracles.Structure.APIKeyEnv)
	c.Oracles.Rewrite.apiKey = resolve(c.Oracles.Rewrite.APIKeyEnv)
	c.Oracles.Analyzer.apiKey = resolve(c.Oracles.Analyzer.APIKeyEnv)
	c.Oracles.Judge.apiKey = resolve(c.Oracles.Judge.APIKeyEnv)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Server.Port != 0 && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}

	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Refine.Validate(); err != nil {
		return fmt.Errorf("refine: %w", err)
	}
	if err := c.Oracles.Validate(); err != nil {
		return fmt.Errorf("oracles: %w", err)
	}

	for _, t := range c.Frontier.Targets {
		if t <= 0 || t > 1 {
			return fmt.Errorf("frontier.targets entries must be in (0,1], got %v", t)
		}
	}
	if c.Frontier.Steps < 0 {
		return fmt.Errorf("frontier.steps must not be negative, got %d", c.Frontier.Steps)
	}
	return nil
}

// Validate checks oracle wiring. Offline mode skips endpoint checks.
func (o *OraclesConfig) Validate() error {
	if o.Offline {
		return nil
	}
	check := func(name string, cfg OracleClientConfig) error {
		if cfg.Endpoint == "" {
			return fmt.Errorf("%s.endpoint is required (or set oracles.offline)", name)
		}
		if cfg.Model == "" {
			return fmt.Errorf("%s.model is required", name)
		}
		return nil
	}
	if err := check("structure", o.Structure); err != nil {
		return err
	}
	if err := check("rewrite", o.Rewrite); err != nil {
		return err
	}
	// Analyzer is optional; configured means fully configured.
	if o.Analyzer.Endpoint != "" {
		if err := check("analyzer", o.Analyzer); err != nil {
			return err
		}
	}
	if o.Judge.Endpoint == "" {
		return fmt.Errorf("judge.endpoint is required (or set oracles.offline)")
	}
	if o.Judge.Model == "" {
		return fmt.Errorf("judge.model is required")
	}
	return nil
}
