// Package config provides configuration management for vum-unrestrict.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration structure
type Config struct {
	ControlPlane    string        `mapstructure:"control-plane"`    // SDDC Manager FQDN (orchestrated mode)
	Targets         string        `mapstructure:"targets"`          // Comma-separated vCenter specifications (direct mode)
	TargetFile      string        `mapstructure:"target-file"`      // Path to file containing vCenter specifications
	Inventory       string        `mapstructure:"inventory"`        // Path to YAML endpoint inventory
	Filter          string        `mapstructure:"filter"`           // Target filter expression
	Username        string        `mapstructure:"username"`         // Default login username
	PasswordEnv     string        `mapstructure:"password-env"`     // Environment variable holding the password
	MinCPVersion    string        `mapstructure:"min-cp-version"`   // Minimum SDDC Manager release
	MinVCVersion    string        `mapstructure:"min-vc-version"`   // Minimum vCenter release
	PollInterval    time.Duration `mapstructure:"poll-interval"`    // Task poll cadence
	ConnectAttempts int           `mapstructure:"connect-attempts"` // Login attempts per endpoint
	Timeout         time.Duration `mapstructure:"timeout"`          // HTTP request timeout
	Insecure        bool          `mapstructure:"insecure"`         // Skip TLS certificate verification
	CACert          string        `mapstructure:"cacert"`           // Path to a CA bundle
	Report          string        `mapstructure:"report"`           // Report format (table, yaml, both)
	ReportFile      string        `mapstructure:"report-file"`      // Write the YAML report to this path
	Quiet           bool          `mapstructure:"quiet"`            // Suppress non-error output
	DryRun          bool          `mapstructure:"dry-run"`          // Show execution plan without connecting
	LogLevel        string        `mapstructure:"log-level"`        // Log level (debug, info, error)
	LogFormat       string        `mapstructure:"log-format"`       // Log format (json, text)
	ShowProgress    bool          `mapstructure:"progress"`         // Show per-target progress ticker
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars, CLI flags)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager() Manager {
	return &ViperManager{
		v: viper.New(),
	}
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("password-env", "VUM_UNRESTRICT_PASSWORD")
	m.v.SetDefault("min-cp-version", "5.2")
	m.v.SetDefault("min-vc-version", "9.0")
	m.v.SetDefault("poll-interval", time.Second)
	m.v.SetDefault("connect-attempts", 3)
	m.v.SetDefault("timeout", 90*time.Second)
	m.v.SetDefault("insecure", false)
	m.v.SetDefault("report", "table")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("progress", true)
}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	// Set defaults first
	m.SetDefaults()

	// Configure config file locations and formats
	m.v.SetConfigName("config")

	// Add config paths in precedence order (current dir highest, system lowest)
	m.v.AddConfigPath(".") // Current directory (highest precedence)

	// Add user config path
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "vum-unrestrict")
		m.v.AddConfigPath(userConfigDir)
	}

	// Add system config path (lowest precedence)
	m.v.AddConfigPath("/etc/vum-unrestrict/")

	// Set up environment variable handling
	m.v.SetEnvPrefix("VUM_UNRESTRICT")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	// Try to read config file with multiple formats
	formats := []string{"yaml", "yml", "json", "toml"}

	for _, format := range formats {
		m.v.SetConfigType(format)
		if err := m.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading %s config file: %w", format, err)
			}
		} else {
			// Config file found and loaded successfully
			break
		}
	}

	// Unmarshal into Config struct
	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate the configuration
	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	// Validate poll interval
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive, got %v", config.PollInterval)
	}

	// Validate connection attempts
	if config.ConnectAttempts <= 0 {
		return fmt.Errorf("connect-attempts must be positive, got %d", config.ConnectAttempts)
	}

	// Validate timeout
	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}

	// Validate minimum versions
	if config.MinCPVersion == "" {
		return fmt.Errorf("min-cp-version must not be empty")
	}
	if config.MinVCVersion == "" {
		return fmt.Errorf("min-vc-version must not be empty")
	}

	// Validate report format
	validReports := map[string]bool{
		"table": true,
		"yaml":  true,
		"both":  true,
	}
	if !validReports[config.Report] {
		return fmt.Errorf("invalid report format '%s': must be one of 'table', 'yaml', or 'both'", config.Report)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info', or 'error'", config.LogLevel)
	}

	// Validate log format
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	// TLS options are mutually exclusive
	if config.Insecure && config.CACert != "" {
		return fmt.Errorf("insecure and cacert cannot both be set")
	}

	return nil
}
