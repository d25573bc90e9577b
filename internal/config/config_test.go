package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Segmenter.SettleMS != 2500 {
		t.Fatalf("expected default settle window 2500ms, got %d", cfg.Segmenter.SettleMS)
	}
	if cfg.SessionStore.MaxSessions != 20 {
		t.Fatalf("expected default session cap 20, got %d", cfg.SessionStore.MaxSessions)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "echoprep.yaml")
	body := `
engine:
  mode: websocket
  endpoint: wss://api.example.com/v1/listen
  api_key: test-key
segmenter:
  settle_ms: 1000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "websocket" {
		t.Fatalf("expected engine mode override, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.Endpoint != "wss://api.example.com/v1/listen" {
		t.Fatalf("expected engine endpoint override, got %q", cfg.Engine.Endpoint)
	}
	if cfg.Segmenter.SettleMS != 1000 {
		t.Fatalf("expected settle override, got %d", cfg.Segmenter.SettleMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECHOPREP_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("ECHOPREP_BUS_USERNAME", "alice")
	t.Setenv("ECHOPREP_BUS_PASSWORD", "secret")
	t.Setenv("ECHOPREP_ENGINE_MODE", "exec")
	t.Setenv("ECHOPREP_ENGINE_COMMAND", "whisper-cli --json")
	t.Setenv("ECHOPREP_SEGMENTER_SETTLE_MS", "1500")
	t.Setenv("ECHOPREP_COACH_MODE", "ollama")
	t.Setenv("ECHOPREP_COACH_TEMPERATURE", "0.2")
	t.Setenv("ECHOPREP_SESSION_STORE_PATH", "./tmp.db")
	t.Setenv("ECHOPREP_SESSION_STORE_MAX_SESSIONS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "whisper-cli --json" {
		t.Fatalf("expected engine override, got %q/%q", cfg.Engine.Mode, cfg.Engine.Command)
	}
	if cfg.Segmenter.SettleMS != 1500 {
		t.Fatalf("expected settle override, got %d", cfg.Segmenter.SettleMS)
	}
	if cfg.Coach.Mode != "ollama" {
		t.Fatalf("expected coach mode override, got %q", cfg.Coach.Mode)
	}
	if cfg.Coach.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %f", cfg.Coach.Temperature)
	}
	if cfg.SessionStore.Path != "./tmp.db" || cfg.SessionStore.MaxSessions != 5 {
		t.Fatalf("expected session store override")
	}
}

func TestValidateRejectsBadEngineMode(t *testing.T) {
	t.Setenv("ECHOPREP_ENGINE_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown engine mode")
	}
}

func TestValidateRequiresWebsocketEndpoint(t *testing.T) {
	t.Setenv("ECHOPREP_ENGINE_MODE", "websocket")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for websocket mode without endpoint")
	}
}
