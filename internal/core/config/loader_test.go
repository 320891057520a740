package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "https://api.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("expected default base delay 500ms, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected default storage driver memory, got %s", cfg.Storage.Driver)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("DRIVERSYNC_TOKEN", "tok-123")

	path := writeConfig(t, `
api:
  base_url: "https://api.example.com"
  token: "${DRIVERSYNC_TOKEN}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "tok-123" {
		t.Errorf("expected token from env, got %q", cfg.API.Token)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for missing api.base_url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
