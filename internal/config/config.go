// Package config resolves the application configuration from layered
// sources: built-in defaults, an optional JSON config file, and environment
// overrides. Resolution happens once at startup; the resulting Config value
// is treated as immutable by everything downstream.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// EnvLicenseKey is the environment variable holding the Spectronaut license
// key. It takes precedence over any key stored in the config file.
const EnvLicenseKey = "SPECTRONAUTKEY"

// Config holds the resolved application configuration.
type Config struct {
	// Command is the command template used to invoke Spectronaut, e.g.
	// ["dotnet", "/usr/lib/spectronaut/SpectronautCMD.dll"]. Workflow
	// arguments are appended to it.
	Command []string `json:"spectronaut_command"`

	// LicenseKey is used to activate Spectronaut before a run and is never
	// logged.
	LicenseKey string `json:"spectronaut_key"`

	// DefaultDir is the directory the file browser starts in.
	DefaultDir string `json:"default_dir"`

	// Port is the HTTP listening port.
	Port uint16 `json:"port"`

	// Debug enables debug-level logging. Not read from the config file.
	Debug bool `json:"-"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Command:    []string{"dotnet", "/usr/lib/spectronaut/SpectronautCMD.dll"},
		DefaultDir: "/work",
		Port:       8080,
	}
}

// DefaultPath returns the default config file location,
// ~/.spectronaut-webui/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".spectronaut-webui", "config.json"), nil
}

// Load resolves the configuration. A missing config file is not an error. A
// malformed config file logs a warning and falls back to defaults, so a bad
// edit never prevents startup.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		logger.Warn("cannot read config file, using defaults", "path", path, "err", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			logger.Warn("malformed config file, using defaults", "path", path, "err", err)
			cfg = Default()
		}
	}

	if key := os.Getenv(EnvLicenseKey); key != "" {
		cfg.LicenseKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Command) == 0 {
		return errors.New("spectronaut_command cannot be empty")
	}

	if c.Port == 0 {
		return errors.New("port must be in valid range")
	}

	return nil
}

// WriteDefault writes a default config file to path, creating parent
// directories as needed. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
