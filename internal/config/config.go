// Package config loads the chat client configuration from a TOML file with
// EMA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	appDirName     = "ema-datachat"
	configFileName = "config.toml"
	storeFileName  = "chat.db"

	TransportHTTP      = "http"
	TransportWebsocket = "websocket"
)

type Config struct {
	API     APIConfig     `toml:"api"`
	Chat    ChatConfig    `toml:"chat"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	Transport string `toml:"transport"`
}

type ChatConfig struct {
	ProjectID   string  `toml:"project_id"`
	DatasetID   string  `toml:"dataset_id"`
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

type StoreConfig struct {
	// Path of the SQLite transcript store. Empty means the default location
	// in the user config directory.
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// File receives the log output. Empty means stderr.
	File string `toml:"file"`
}

// Default returns the configuration used when no file is present. It matches
// the analytics API's own defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8000",
			Transport: TransportHTTP,
		},
		Chat: ChatConfig{
			Provider:    "ollama",
			Model:       "llama3.1:8b",
			Temperature: 0.2,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the config file location in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, configFileName), nil
}

// Load reads the config at path over the defaults and applies environment
// overrides. An empty path loads DefaultPath, which may be missing. Unknown
// keys are rejected so typos do not silently fall back to defaults.
//
// Load does not validate; callers apply their own overrides first and then
// call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	metadata, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	default:
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("loading config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config as TOML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides replaces fields with the values of set EMA_* variables.
func (c *Config) ApplyEnvOverrides() error {
	stringOverrides := []struct {
		name  string
		field *string
	}{
		{"EMA_API_URL", &c.API.BaseURL},
		{"EMA_TRANSPORT", &c.API.Transport},
		{"EMA_PROJECT_ID", &c.Chat.ProjectID},
		{"EMA_DATASET_ID", &c.Chat.DatasetID},
		{"EMA_PROVIDER", &c.Chat.Provider},
		{"EMA_MODEL", &c.Chat.Model},
		{"EMA_STORE_PATH", &c.Store.Path},
		{"EMA_LOG_LEVEL", &c.Logging.Level},
		{"EMA_LOG_FILE", &c.Logging.File},
	}
	for _, override := range stringOverrides {
		if value := os.Getenv(override.name); value != "" {
			*override.field = value
		}
	}

	if value := os.Getenv("EMA_TEMPERATURE"); value != "" {
		temperature, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid EMA_TEMPERATURE %q: %w", value, err)
		}
		c.Chat.Temperature = temperature
	}

	if value := os.Getenv("EMA_STORE_DISABLED"); value != "" {
		disabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid EMA_STORE_DISABLED %q: %w", value, err)
		}
		c.Store.Disabled = disabled
	}

	return nil
}

// StorePath returns the configured store path or the default location.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, storeFileName), nil
}

// SlogLevel maps the configured level name to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every problem Validate found.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Validate reports every invalid field at once as ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if baseURL, err := url.Parse(c.API.BaseURL); err != nil || baseURL.Host == "" ||
		(baseURL.Scheme != "http" && baseURL.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be an absolute http or https URL", c.API.BaseURL),
		})
	}

	if !slices.Contains([]string{TransportHTTP, TransportWebsocket}, c.API.Transport) {
		errs = append(errs, ValidationError{
			Field:   "api.transport",
			Message: fmt.Sprintf("invalid transport '%s', must be one of: %s, %s", c.API.Transport, TransportHTTP, TransportWebsocket),
		})
	}

	if strings.TrimSpace(c.Chat.ProjectID) == "" {
		errs = append(errs, ValidationError{Field: "chat.project_id", Message: "is required"})
	}
	if strings.TrimSpace(c.Chat.Model) == "" {
		errs = append(errs, ValidationError{Field: "chat.model", Message: "is required"})
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: fmt.Sprintf("invalid temperature %v, must be between 0 and 2", c.Chat.Temperature),
		})
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
