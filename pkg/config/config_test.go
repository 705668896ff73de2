package config

import (
	"os"
	"testing"
	"time"

	"cssbattle/pkg/raster"
)

var configEnv = []string{
	"LOG_LEVEL", "ROUND_SECONDS", "DEBOUNCE_MS", "COMPARE_THRESHOLD", "COMPARE_INCLUDE_AA",
	"CAPTURE_TIMEOUT_MS", "TARGET_FIT", "CHROME_URL", "CHROME_PATH", "API_BASE_URL",
	"LISTEN_ADDR", "DB_PATH", "SOCKET_URL", "SOCKET_TOKEN", "EVENT_ID", "CATALOG_PATH",
}

// clearConfigEnv unsets every variable read by Load for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.RoundSeconds != 300 || cfg.RoundDuration() != 5*time.Minute {
		t.Errorf("Expected 300 second rounds, got %d", cfg.RoundSeconds)
	}
	if cfg.Threshold != 0.1 {
		t.Errorf("Expected threshold 0.1, got %v", cfg.Threshold)
	}
	if cfg.Debounce != 150*time.Millisecond {
		t.Errorf("Expected 150ms debounce, got %v", cfg.Debounce)
	}
	if cfg.CaptureTimeout != 5*time.Second {
		t.Errorf("Expected 5s capture timeout, got %v", cfg.CaptureTimeout)
	}
	if cfg.TargetFit != raster.FitContain {
		t.Errorf("Expected contain fit, got %v", cfg.TargetFit)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("Expected ListenAddr '127.0.0.1:8090', got '%s'", cfg.ListenAddr)
	}
	if cfg.DBPath != "cssbattle.db" || cfg.CatalogPath != "challenges.toml" {
		t.Errorf("unexpected paths %s / %s", cfg.DBPath, cfg.CatalogPath)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("ROUND_SECONDS", "90")
	t.Setenv("COMPARE_THRESHOLD", "0.25")
	t.Setenv("COMPARE_INCLUDE_AA", "true")
	t.Setenv("TARGET_FIT", "clip")
	t.Setenv("SOCKET_URL", "ws://localhost:4000/ws")
	t.Setenv("EVENT_ID", "evt-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.RoundSeconds != 90 || cfg.Threshold != 0.25 || !cfg.IncludeAA {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.TargetFit != raster.FitClip {
		t.Errorf("Expected clip fit, got %v", cfg.TargetFit)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(".env", []byte("ROUND_SECONDS=45\nLOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv.Load sets process variables; drop them after the test.
	t.Cleanup(func() {
		os.Unsetenv("ROUND_SECONDS")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.RoundSeconds != 45 || cfg.LogLevel != "debug" {
		t.Errorf(".env values not applied: %d %s", cfg.RoundSeconds, cfg.LogLevel)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"threshold above one", map[string]string{"COMPARE_THRESHOLD": "1.5"}},
		{"negative threshold", map[string]string{"COMPARE_THRESHOLD": "-0.1"}},
		{"zero round", map[string]string{"ROUND_SECONDS": "0"}},
		{"unknown fit", map[string]string{"TARGET_FIT": "stretch"}},
		{"socket without event", map[string]string{"SOCKET_URL": "ws://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
