// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Execution ExecutionConfig `yaml:"execution"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Servers   []MCPServer     `yaml:"mcp_servers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the agent-facing endpoint configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Token, when set, is required as a bearer token on every agent request
	Token string `yaml:"token"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExecutionConfig holds function execution configuration
type ExecutionConfig struct {
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// DefaultsConfig controls registration of the bundled collections
type DefaultsConfig struct {
	Disabled bool `yaml:"disabled"`
}

// MCPServer is one external tool provider to connect at startup
type MCPServer struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: "127.0.0.1:8700"},
		Database: DatabaseConfig{Path: "toolgate.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	for i, srv := range c.Servers {
		if srv.Name == "" {
			return fmt.Errorf("mcp_servers[%d].name is required", i)
		}
		if srv.URL == "" {
			return fmt.Errorf("mcp_servers[%d].url is required", i)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Execution.TimeoutRaw != "" {
		cfg.Execution.Timeout, err = time.ParseDuration(cfg.Execution.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing execution timeout %q: %w", cfg.Execution.TimeoutRaw, err)
		}
	}

	return nil
}
