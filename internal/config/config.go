// Package config contains everything related to configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/j-veylop/openrouter-monitor/internal/logger"
)

// ErrMissingAPIKey reports that no API key could be resolved from the
// request, the key store, or the environment.
var ErrMissingAPIKey = errors.New("no API key configured (set OPENROUTER_API_KEY or add a key to the store)")

const (
	configFileName  = "config.json"
	projectFileName = ".openrouter-monitor.json"

	// envPrefix scopes every recognized environment override.
	envPrefix = "OPENROUTER_MONITOR_"
)

// Default values
const (
	DefaultInterval       = 60 * time.Second
	DefaultWarnThreshold  = 80
	DefaultAlertThreshold = 95
	DefaultRetentionDays  = 30
	DefaultOutputFormat   = "json"
	DefaultHistoryBackend = "json"
)

// Config holds the application configuration. The API key is resolved from
// the environment or the key store and is never written back to disk.
type Config struct {
	Dir                  string
	Interval             time.Duration
	WarnThreshold        int
	AlertThreshold       int
	OutputFormat         string
	HistoryRetentionDays int
	RequestsPath         string
	HistoryBackend       string
	Quiet                bool
	APIKey               string

	// BaseURL overrides the upstream API endpoint, mainly for proxies and
	// tests. Empty selects the client default.
	BaseURL string
}

// fileConfig is the on-disk shape. Pointer fields distinguish "absent" from
// zero so layered files only override what they set.
type fileConfig struct {
	Interval             *string `json:"interval,omitempty"`
	WarnThreshold        *int    `json:"warnThreshold,omitempty"`
	AlertThreshold       *int    `json:"alertThreshold,omitempty"`
	OutputFormat         *string `json:"outputFormat,omitempty"`
	HistoryRetentionDays *int    `json:"historyRetentionDays,omitempty"`
	RequestsPath         *string `json:"requestsPath,omitempty"`
	HistoryBackend       *string `json:"historyBackend,omitempty"`
	Quiet                *bool   `json:"quiet,omitempty"`
}

// Load builds the configuration for dir (empty selects the default config
// directory). Layering order: defaults, then config.json in dir, then a
// project-local .openrouter-monitor.json, then environment variables.
// Invalid values in any layer are an error, never a silent fallback.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = DefaultDir()
	}

	// Try loading .env from multiple locations
	for _, path := range envPaths(dir) {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		Dir:                  dir,
		Interval:             DefaultInterval,
		WarnThreshold:        DefaultWarnThreshold,
		AlertThreshold:       DefaultAlertThreshold,
		OutputFormat:         DefaultOutputFormat,
		HistoryRetentionDays: DefaultRetentionDays,
		HistoryBackend:       DefaultHistoryBackend,
	}

	if err := applyFile(cfg, filepath.Join(dir, configFileName)); err != nil {
		return nil, err
	}
	if cwd, err := os.Getwd(); err == nil {
		if err := applyFile(cfg, filepath.Join(cwd, projectFileName)); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the persistable settings to config.json in the config
// directory. The API key is deliberately excluded.
func (c *Config) Save() error {
	if err := ensureDir(c.Dir); err != nil {
		return err
	}

	interval := c.Interval.String()
	file := fileConfig{
		Interval:             &interval,
		WarnThreshold:        &c.WarnThreshold,
		AlertThreshold:       &c.AlertThreshold,
		OutputFormat:         &c.OutputFormat,
		HistoryRetentionDays: &c.HistoryRetentionDays,
		HistoryBackend:       &c.HistoryBackend,
		Quiet:                &c.Quiet,
	}
	if c.RequestsPath != "" {
		file.RequestsPath = &c.RequestsPath
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(c.Dir, configFileName)
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// HistoryDBPath is where the sqlite backend keeps its database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Dir, "history.db")
}

// DefaultDir returns the default configuration directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openrouter-monitor"
	}
	return filepath.Join(home, ".config", "openrouter-monitor")
}

// envPaths returns the locations checked for a .env file.
func envPaths(dir string) []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	paths = append(paths, filepath.Join(dir, ".env"))
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "openrouter-monitor", ".env"))
	}
	return paths
}

// applyFile overlays one JSON config file onto cfg. A missing file is fine;
// an unreadable or invalid one is not.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if file.Interval != nil {
		d, err := parseInterval(*file.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval in %s: %w", path, err)
		}
		cfg.Interval = d
	}
	if file.WarnThreshold != nil {
		cfg.WarnThreshold = *file.WarnThreshold
	}
	if file.AlertThreshold != nil {
		cfg.AlertThreshold = *file.AlertThreshold
	}
	if file.OutputFormat != nil {
		cfg.OutputFormat = *file.OutputFormat
	}
	if file.HistoryRetentionDays != nil {
		cfg.HistoryRetentionDays = *file.HistoryRetentionDays
	}
	if file.RequestsPath != nil {
		cfg.RequestsPath = *file.RequestsPath
	}
	if file.HistoryBackend != nil {
		cfg.HistoryBackend = *file.HistoryBackend
	}
	if file.Quiet != nil {
		cfg.Quiet = *file.Quiet
	}
	return nil
}

// applyEnv overlays OPENROUTER_MONITOR_* variables. Every recognized key is
// converted exactly once; a value that does not parse is an error.
func applyEnv(cfg *Config) error {
	if value, ok := lookupEnv("INTERVAL"); ok {
		d, err := parseInterval(value)
		if err != nil {
			return fmt.Errorf("invalid %sINTERVAL: %w", envPrefix, err)
		}
		cfg.Interval = d
	}
	if err := envInt("WARN_THRESHOLD", &cfg.WarnThreshold); err != nil {
		return err
	}
	if err := envInt("ALERT_THRESHOLD", &cfg.AlertThreshold); err != nil {
		return err
	}
	if value, ok := lookupEnv("OUTPUT_FORMAT"); ok {
		cfg.OutputFormat = value
	}
	if err := envInt("RETENTION_DAYS", &cfg.HistoryRetentionDays); err != nil {
		return err
	}
	if value, ok := lookupEnv("REQUESTS_PATH"); ok {
		cfg.RequestsPath = value
	}
	if value, ok := lookupEnv("HISTORY_BACKEND"); ok {
		cfg.HistoryBackend = value
	}
	if value, ok := lookupEnv("BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok := lookupEnv("QUIET"); ok {
		quiet, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %sQUIET: %w", envPrefix, err)
		}
		cfg.Quiet = quiet
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func envInt(key string, dst *int) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

// parseInterval accepts Go duration syntax ("90s", "2m") or a bare number
// of seconds.
func parseInterval(value string) (time.Duration, error) {
	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %q", value)
		}
		return d, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("unparseable duration %q", value)
}

func (c *Config) validate() error {
	if c.WarnThreshold < 1 || c.WarnThreshold > 100 {
		return fmt.Errorf("warn threshold %d out of range 1-100", c.WarnThreshold)
	}
	if c.AlertThreshold < 1 || c.AlertThreshold > 100 {
		return fmt.Errorf("alert threshold %d out of range 1-100", c.AlertThreshold)
	}
	if c.WarnThreshold > c.AlertThreshold {
		return fmt.Errorf("warn threshold %d exceeds alert threshold %d", c.WarnThreshold, c.AlertThreshold)
	}
	if c.HistoryRetentionDays < 1 {
		return fmt.Errorf("retention days must be positive, got %d", c.HistoryRetentionDays)
	}
	switch c.HistoryBackend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown history backend %q (want json or sqlite)", c.HistoryBackend)
	}
	return nil
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
