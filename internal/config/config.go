package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tierroute/tierroute/internal/backends/anthropic"
	"github.com/tierroute/tierroute/internal/backends/openai"
)

// Config represents the complete application configuration.
type Config struct {
	Router   RouterConfig   `yaml:"router"`
	Backends BackendsConfig `yaml:"backends"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RouterConfig holds routing engine configuration.
type RouterConfig struct {
	// StateDir holds the three persisted JSON records.
	StateDir string `yaml:"state_dir"`

	// Window is the rolling probe-record window size per backend.
	Window int `yaml:"window"`

	// Cooldown is the exclusion period applied after a failed call.
	Cooldown time.Duration `yaml:"cooldown"`

	// ProbePrompt is the trivial prompt used by health probes.
	ProbePrompt string `yaml:"probe_prompt"`

	// InvokeTimeout bounds a single remote call. 0 disables the bound,
	// matching the historical behavior of no timeout at all.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	// CredentialEnvPrefix names the environment variables holding
	// credentials; every variable whose name starts with the prefix
	// contributes one, ordered by variable name.
	CredentialEnvPrefix string `yaml:"credential_env_prefix"`
}

// BackendsConfig holds configuration for all backend clients.
type BackendsConfig struct {
	OpenAI    *openai.Config    `yaml:"openai"`
	Anthropic *anthropic.Config `yaml:"anthropic"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values.
func (c *Config) setDefaults() {
	c.Router = RouterConfig{
		StateDir:            ".",
		Window:              20,
		Cooldown:            60 * time.Second,
		ProbePrompt:         "Say hi.",
		InvokeTimeout:       0,
		CredentialEnvPrefix: "TIERROUTE_API_KEY",
	}

	c.Backends = BackendsConfig{
		OpenAI: &openai.Config{
			Blocked: []string{"embedding", "whisper", "tts", "audio", "image", "dall-e", "moderation"},
			MaxTokens: map[string]int{
				"gpt-4o":        4096,
				"gpt-4o-mini":   16384,
				"gpt-3.5-turbo": 4096,
			},
		},
		Anthropic: &anthropic.Config{
			Models: []string{
				"claude-3-5-sonnet-20241022",
				"claude-3-haiku-20240307",
			},
			MaxTokens: map[string]int{
				"claude-3-5-sonnet-20241022": 8192,
				"claude-3-haiku-20240307":    4096,
			},
		},
	}

	c.Server = ServerConfig{
		Port:         "8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if dir := os.Getenv("TIERROUTE_STATE_DIR"); dir != "" {
		c.Router.StateDir = dir
	}

	if port := os.Getenv("TIERROUTE_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("TIERROUTE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("TIERROUTE_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if prefix := os.Getenv("TIERROUTE_CREDENTIAL_PREFIX"); prefix != "" {
		c.Router.CredentialEnvPrefix = prefix
	}
}

// validate validates the configuration.
func (c *Config) validate() error {
	if c.Router.StateDir == "" {
		return fmt.Errorf("state directory cannot be empty")
	}

	if c.Router.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", c.Router.Window)
	}

	if c.Router.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %v", c.Router.Cooldown)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Backends.OpenAI == nil && c.Backends.Anthropic == nil {
		return fmt.Errorf("at least one backend client must be configured")
	}

	return nil
}

// Credentials returns the ordered credential set from the environment:
// every variable whose name starts with the configured prefix, ordered
// by variable name so the sequence is stable across runs.
func (c *Config) Credentials() []string {
	type entry struct {
		name  string
		value string
	}

	var entries []entry
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if strings.HasPrefix(name, c.Router.CredentialEnvPrefix) {
			entries = append(entries, entry{name: name, value: value})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	creds := make([]string, len(entries))
	for i, e := range entries {
		creds[i] = e.value
	}
	return creds
}
