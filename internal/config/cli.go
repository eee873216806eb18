package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default operator config directory (~/.accessgate).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".accessgate"), nil
}

// DefaultConfigPath returns the default operator config file path (~/.accessgate/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CLIConfig holds the operator CLI's saved settings.
type CLIConfig struct {
	DatabaseURL   string `yaml:"database_url,omitempty"`
	GrantTimezone string `yaml:"grant_timezone,omitempty"`
	DefaultOwner  string `yaml:"default_owner,omitempty"`
}

// Validate checks that the configuration can open a store.
func (c *CLIConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if _, _, err := ParseDatabaseURL(c.DatabaseURL); err != nil {
		return err
	}
	if c.GrantTimezone != "" {
		if _, err := time.LoadLocation(c.GrantTimezone); err != nil {
			return fmt.Errorf("invalid grant_timezone: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides saved settings with DATABASE_URL and GRANT_TIMEZONE when set.
func (c *CLIConfig) ApplyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("GRANT_TIMEZONE"); v != "" {
		c.GrantTimezone = v
	}
}

// LoadCLI reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func LoadCLI(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *CLIConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
