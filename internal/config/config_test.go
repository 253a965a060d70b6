package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aria.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://aria@localhost/aria")
	path := writeConfig(t, `
database:
  url: ${TEST_DB_URL}
llm:
  gateway_url: https://gateway.example.com
  api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://aria@localhost/aria" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Admin.Port != 8790 || cfg.Admin.Host != "127.0.0.1" {
		t.Errorf("admin defaults = %+v", cfg.Admin)
	}
	if cfg.Scheduler.Workers != 4 || cfg.Scheduler.Tick != time.Second {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.LLM.MaxToolIterations != 10 || cfg.LLM.ContextWindow != 40 {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Database.MaxConnections != 6 {
		t.Errorf("pool size = %d, want 6", cfg.Database.MaxConnections)
	}
	if len(cfg.LLM.Models) != 2 {
		t.Errorf("model chain = %+v", cfg.LLM.Models)
	}
}

func TestLoadEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://file@localhost/aria
llm:
  gateway_url: https://file.example.com
`)
	t.Setenv("ARIA_DATABASE_URL", "postgres://env@localhost/aria")
	t.Setenv("ARIA_GATEWAY_URL", "https://env.example.com")
	t.Setenv("ARIA_ADMIN_PORT", "9001")
	t.Setenv("ARIA_EDGE_URL", "https://edge.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://env@localhost/aria" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.LLM.GatewayURL != "https://env.example.com" {
		t.Errorf("gateway url = %q", cfg.LLM.GatewayURL)
	}
	if cfg.Admin.Port != 9001 {
		t.Errorf("admin port = %d", cfg.Admin.Port)
	}
	if cfg.Edge.URL != "https://edge.example.com" {
		t.Errorf("edge url = %q", cfg.Edge.URL)
	}
	if cfg.Edge.Timeout != 30*time.Second {
		t.Errorf("edge timeout = %v, want default 30s", cfg.Edge.Timeout)
	}
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	path := writeConfig(t, `
llm:
  gateway_url: https://gateway.example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "database.url") {
		t.Errorf("err = %v, want database.url complaint", err)
	}
}

func TestLoadRejectsEmptyModelEntry(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://aria@localhost/aria
llm:
  gateway_url: https://gateway.example.com
  models:
    - model: claude-sonnet-4
    - max_tokens: 100
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "llm.models[1]") {
		t.Errorf("err = %v, want model entry complaint", err)
	}
}

func TestBootstrapGeneratesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "aria.yaml")
	if err := Bootstrap(path); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read generated config: %v", err)
	}
	if !strings.Contains(string(data), "token:") {
		t.Error("generated config has no admin token")
	}

	t.Setenv("ARIA_DATABASE_URL", "postgres://aria@localhost/aria")
	t.Setenv("ARIA_GATEWAY_URL", "https://gateway.example.com")
	t.Setenv("ARIA_GATEWAY_API_KEY", "sk-test")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load generated config: %v", err)
	}
	if len(cfg.Admin.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(cfg.Admin.Token))
	}

	// Second bootstrap must not overwrite.
	if err := Bootstrap(path); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	again, _ := os.ReadFile(path)
	if string(again) != string(data) {
		t.Error("bootstrap overwrote an existing config")
	}
}

func TestFromEnvOnly(t *testing.T) {
	t.Setenv("ARIA_DATABASE_URL", "postgres://aria@localhost/aria")
	t.Setenv("ARIA_GATEWAY_URL", "https://gateway.example.com")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Database.URL == "" || cfg.LLM.GatewayURL == "" {
		t.Errorf("cfg = %+v", cfg)
	}
}
