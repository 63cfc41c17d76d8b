package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddress != defaultListenAddress {
		t.Fatalf("expected default listen address %s, got %s", defaultListenAddress, cfg.ListenAddress)
	}
	if cfg.WSPath != "/ws" {
		t.Fatalf("expected default ws path, got %s", cfg.WSPath)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("expected default log level %s, got %s", defaultLogLevel, cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != defaultShutdownGracePeriod {
		t.Fatalf("expected default grace %s, got %s", defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	}
	if cfg.InstanceID != "0" {
		t.Fatalf("expected default instance id 0, got %s", cfg.InstanceID)
	}
	if cfg.WebSocket.PingPeriod != 60*time.Second || cfg.WebSocket.IdleTimeout != 120*time.Second {
		t.Fatalf("unexpected keep-alive defaults: %+v", cfg.WebSocket)
	}
	if cfg.Backplane.Driver != DriverRedis || cfg.Backplane.Channel != "ws-channel" {
		t.Fatalf("unexpected backplane defaults: %+v", cfg.Backplane)
	}
	if cfg.Backplane.Address != defaultBackplaneAddress {
		t.Fatalf("expected default backplane address, got %s", cfg.Backplane.Address)
	}
	if cfg.Admin.Address != "" {
		t.Fatalf("expected admin listener disabled by default, got %s", cfg.Admin.Address)
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
listen_address: "127.0.0.1:7001"
log_level: "debug"
shutdown_grace_period: "5s"
instance_id: "file-node"
auth:
  secret: "from-file"
websocket:
  ping_period: "10s"
  idle_timeout: "30s"
  allowed_origins: ["https://pos.example"]
backplane:
  driver: "memory"
  channel: "relay-test"
admin:
  address: "127.0.0.1:9090"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RELAY_LISTEN_ADDRESS", ":6000")
	t.Setenv("RELAY_BACKPLANE_DB", "2")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddress != ":6000" {
		t.Fatalf("expected env override for listen address, got %s", cfg.ListenAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 5*time.Second {
		t.Fatalf("expected grace 5s, got %s", cfg.ShutdownGracePeriod)
	}
	if cfg.InstanceID != "file-node" {
		t.Fatalf("expected instance id from file, got %s", cfg.InstanceID)
	}
	if cfg.Auth.Secret != "from-file" {
		t.Fatalf("expected secret from file, got %s", cfg.Auth.Secret)
	}
	if cfg.WebSocket.PingPeriod != 10*time.Second || cfg.WebSocket.IdleTimeout != 30*time.Second {
		t.Fatalf("unexpected keep-alive settings: %+v", cfg.WebSocket)
	}
	if len(cfg.WebSocket.AllowedOrigins) != 1 || cfg.WebSocket.AllowedOrigins[0] != "https://pos.example" {
		t.Fatalf("unexpected allowed origins: %v", cfg.WebSocket.AllowedOrigins)
	}
	if cfg.Backplane.Driver != DriverMemory || cfg.Backplane.Channel != "relay-test" || cfg.Backplane.DB != 2 {
		t.Fatalf("unexpected backplane settings: %+v", cfg.Backplane)
	}
	if cfg.Admin.Address != "127.0.0.1:9090" {
		t.Fatalf("expected admin address from file, got %s", cfg.Admin.Address)
	}
}

func TestLegacyEnvironment(t *testing.T) {
	t.Setenv("INSTANCE_ID", "3")
	t.Setenv("REDIS_HOST", "redis")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InstanceID != "3" {
		t.Fatalf("expected legacy instance id, got %s", cfg.InstanceID)
	}
	if cfg.Backplane.Address != "redis:6379" {
		t.Fatalf("expected legacy redis host with default port, got %s", cfg.Backplane.Address)
	}

	t.Setenv("RELAY_INSTANCE_ID", "7")
	t.Setenv("RELAY_BACKPLANE_ADDRESS", "cache:6380")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InstanceID != "7" || cfg.Backplane.Address != "cache:6380" {
		t.Fatalf("expected prefixed env to win, got %s %s", cfg.InstanceID, cfg.Backplane.Address)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"RELAY_BACKPLANE_DRIVER":       "kafka",
		"RELAY_SHUTDOWN_GRACE_PERIOD":  "soon",
		"RELAY_WS_PATH":                "ws",
		"RELAY_WEBSOCKET_IDLE_TIMEOUT": "30s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestWithDefaultPort(t *testing.T) {
	cases := map[string]string{
		"redis":        "redis:6379",
		"cache:6380":   "cache:6380",
		"10.0.0.5":     "10.0.0.5:6379",
		"::1":          "[::1]:6379",
		"[::1]":        "[::1]:6379",
		"[::1]:6380":   "[::1]:6380",
		"fe80::1%eth0": "[fe80::1%eth0]:6379",
	}
	for host, want := range cases {
		if got := withDefaultPort(host); got != want {
			t.Fatalf("withDefaultPort(%q) = %q, want %q", host, got, want)
		}
	}
}
