package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Visualization VisualizationConfig `mapstructure:"visualization"`
	Languages     map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend           string  `mapstructure:"backend"`
	Host              string  `mapstructure:"host"`
	TimeoutSec        int     `mapstructure:"timeout_sec"`
	MaxTimeoutSec     int     `mapstructure:"max_timeout_sec"`
	MemoryMB          int     `mapstructure:"memory_mb"`
	MaxMemoryMB       int     `mapstructure:"max_memory_mb"`
	CPUs              float64 `mapstructure:"cpus"`
	PidsLimit         int64   `mapstructure:"pids_limit"`
	PollIntervalMs    int     `mapstructure:"poll_interval_ms"`
	KillGraceMs       int     `mapstructure:"kill_grace_ms"`
	MaxOutputKB       int     `mapstructure:"max_output_kb"`
	MaxArtifactSizeMB int     `mapstructure:"max_artifact_size_mb"`
	User              string  `mapstructure:"user"`
	PullImages        bool    `mapstructure:"pull_images"`
	ProfilesFile      string  `mapstructure:"profiles_file"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// VisualizationConfig holds post-processing configuration
type VisualizationConfig struct {
	MaxTextChars int `mapstructure:"max_text_chars"`
}

// Language overrides or extends a built-in language profile.
// Empty fields keep the built-in value.
type Language struct {
	Image       string            `mapstructure:"image" yaml:"image"`
	FileSuffix  string            `mapstructure:"file_suffix" yaml:"file_suffix"`
	FileName    string            `mapstructure:"file_name" yaml:"file_name"`
	Command     []string          `mapstructure:"command" yaml:"command"`
	Environment map[string]string `mapstructure:"environment" yaml:"environment"`
	PrefixCode  string            `mapstructure:"prefix_code" yaml:"prefix_code"`
	PostfixCode string            `mapstructure:"postfix_code" yaml:"postfix_code"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CODEVIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.host", "")
	v.SetDefault("sandbox.timeout_sec", 30)
	v.SetDefault("sandbox.max_timeout_sec", 300)
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.max_memory_mb", 4096)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.poll_interval_ms", 100)
	v.SetDefault("sandbox.kill_grace_ms", 2000)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.max_artifact_size_mb", 20)
	v.SetDefault("sandbox.user", "nobody")
	v.SetDefault("sandbox.pull_images", true)
	v.SetDefault("sandbox.profiles_file", "")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("visualization.max_text_chars", 10000)
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.Backend != "docker" && c.Sandbox.Backend != "podman" {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MaxTimeoutSec < c.Sandbox.TimeoutSec {
		return fmt.Errorf("sandbox.max_timeout_sec must be at least sandbox.timeout_sec, got: %d", c.Sandbox.MaxTimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.MaxMemoryMB < c.Sandbox.MemoryMB {
		return fmt.Errorf("sandbox.max_memory_mb must be at least sandbox.memory_mb, got: %d", c.Sandbox.MaxMemoryMB)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %g", c.Sandbox.CPUs)
	}

	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got: %d", c.Sandbox.PidsLimit)
	}

	if c.Sandbox.PollIntervalMs <= 0 {
		return fmt.Errorf("sandbox.poll_interval_ms must be positive, got: %d", c.Sandbox.PollIntervalMs)
	}

	if c.Sandbox.KillGraceMs <= 0 {
		return fmt.Errorf("sandbox.kill_grace_ms must be positive, got: %d", c.Sandbox.KillGraceMs)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.MaxArtifactSizeMB <= 0 {
		return fmt.Errorf("sandbox.max_artifact_size_mb must be positive, got: %d", c.Sandbox.MaxArtifactSizeMB)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Visualization.MaxTextChars <= 0 {
		return fmt.Errorf("visualization.max_text_chars must be positive, got: %d", c.Visualization.MaxTextChars)
	}

	return nil
}

// GetTimeout returns the default execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetPollInterval returns the resource guard polling interval
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Sandbox.PollIntervalMs) * time.Millisecond
}

// GetKillGrace returns how long the guard waits for a killed process to exit
func (c *Config) GetKillGrace() time.Duration {
	return time.Duration(c.Sandbox.KillGraceMs) * time.Millisecond
}
