package alumnet

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ALUMNET_TEST_KEY", "reverb-key")
	path := filepath.Join(t.TempDir(), "alumnet.yaml")
	data := `
host: localhost
port: 8080
app_key: ${ALUMNET_TEST_KEY}
rest_base_url: http://localhost:8000/api
handshake_timeout: 3s
auto_reconnect: true
typing_ttl: 1500ms
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppKey != "reverb-key" {
		t.Errorf("app key = %q, env not expanded", cfg.AppKey)
	}
	if cfg.HandshakeTimeout != 3*time.Second || cfg.TypingTTL != 1500*time.Millisecond || !cfg.AutoReconnect {
		t.Errorf("durations/flags not parsed: %+v", cfg)
	}
	if cfg.WriteTimeout != 10*time.Second || cfg.EventNamespace != "App.Events" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if got := cfg.authEndpoint(); got != "http://localhost:8000/api/broadcasting/auth" {
		t.Errorf("auth endpoint = %q", got)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: 8080\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadConfig(path)
	if !errors.Is(err, NewError(ErrorInvalidConfig, "")) {
		t.Fatalf("err = %v, want invalid config", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWebSocketURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "chat.example.com"
	cfg.Port = 443
	cfg.Scheme = "https"
	cfg.AppKey = "abc"

	raw, err := cfg.WebSocketURL()
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "chat.example.com:443" || u.Path != "/app/abc" {
		t.Fatalf("url = %s", raw)
	}
	q := u.Query()
	if q.Get("protocol") != "7" || q.Get("client") != clientName || q.Get("flash") != "false" {
		t.Fatalf("query = %v", q)
	}

	cfg.URL = "ws://override:6001/app/xyz"
	if raw, _ := cfg.WebSocketURL(); raw != cfg.URL {
		t.Fatalf("explicit url ignored: %s", raw)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without host")
	}
	cfg.Host = "localhost"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without app key")
	}
	cfg.AppKey = "k"
	cfg.Scheme = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for scheme")
	}
	cfg.Scheme = "http"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
