package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restore chdir: %v", err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", cfg.Interval, DefaultInterval)
	}
	if cfg.WarnThreshold != 80 || cfg.AlertThreshold != 95 {
		t.Errorf("thresholds = %d/%d, want 80/95", cfg.WarnThreshold, cfg.AlertThreshold)
	}
	if cfg.HistoryRetentionDays != 30 {
		t.Errorf("HistoryRetentionDays = %d, want 30", cfg.HistoryRetentionDays)
	}
	if cfg.HistoryBackend != "json" {
		t.Errorf("HistoryBackend = %q, want json", cfg.HistoryBackend)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()

	content := `{"interval": "2m", "warnThreshold": 70, "historyBackend": "sqlite"}`
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Interval != 2*time.Minute {
		t.Errorf("Interval = %v, want 2m", cfg.Interval)
	}
	if cfg.WarnThreshold != 70 {
		t.Errorf("WarnThreshold = %d, want 70", cfg.WarnThreshold)
	}
	if cfg.HistoryBackend != "sqlite" {
		t.Errorf("HistoryBackend = %q, want sqlite", cfg.HistoryBackend)
	}
	// Untouched fields keep defaults.
	if cfg.AlertThreshold != 95 {
		t.Errorf("AlertThreshold = %d, want 95", cfg.AlertThreshold)
	}
}

func TestProjectFileOverridesConfigFile(t *testing.T) {
	cwd := t.TempDir()
	chdir(t, cwd)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(`{"interval": "2m"}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cwd, projectFileName), []byte(`{"interval": "30s"}`), 0600); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s from project file", cfg.Interval)
	}
}

func TestEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OPENROUTER_MONITOR_INTERVAL", "15s")
	t.Setenv("OPENROUTER_MONITOR_WARN_THRESHOLD", "60")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-v1-test")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("Interval = %v, want 15s", cfg.Interval)
	}
	if cfg.WarnThreshold != 60 {
		t.Errorf("WarnThreshold = %d, want 60", cfg.WarnThreshold)
	}
	if cfg.APIKey != "sk-or-v1-test" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
}

func TestInvalidEnvFailsLoudly(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad interval", "OPENROUTER_MONITOR_INTERVAL", "soon"},
		{"bad threshold", "OPENROUTER_MONITOR_WARN_THRESHOLD", "eighty"},
		{"bad quiet", "OPENROUTER_MONITOR_QUIET", "sometimes"},
		{"bad backend", "OPENROUTER_MONITOR_HISTORY_BACKEND", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.value)

			if _, err := Load(t.TempDir()); err == nil {
				t.Errorf("Load() with %s=%s should fail", tt.key, tt.value)
			}
		})
	}
}

func TestValidation(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()

	content := `{"warnThreshold": 96, "alertThreshold": 95}`
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Load() with warn > alert should fail")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cfg.Interval = 90 * time.Second
	cfg.AlertThreshold = 90
	cfg.APIKey = "sk-or-v1-secret"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(data), "sk-or-v1-secret") {
		t.Error("config file contains the API key")
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Interval != 90*time.Second {
		t.Errorf("Interval = %v, want 90s", reloaded.Interval)
	}
	if reloaded.AlertThreshold != 90 {
		t.Errorf("AlertThreshold = %d, want 90", reloaded.AlertThreshold)
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "30s", want: 30 * time.Second},
		{in: "2m", want: 2 * time.Minute},
		{in: "60", want: 60 * time.Second},
		{in: "0", wantErr: true},
		{in: "-5s", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInterval(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseInterval(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInterval(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseInterval(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
