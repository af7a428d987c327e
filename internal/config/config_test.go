package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	r := cfg.Recovery
	if r.MaxReconnectAttempts != 10 {
		t.Errorf("expected max_reconnect_attempts 10, got %d", r.MaxReconnectAttempts)
	}
	if r.ReconnectTimeout != 300*time.Second {
		t.Errorf("expected reconnect_timeout 300s, got %v", r.ReconnectTimeout)
	}
	if r.ActivityTimeout != 600*time.Second {
		t.Errorf("expected activity_timeout 600s, got %v", r.ActivityTimeout)
	}
	if r.CleanupInterval != 300*time.Second {
		t.Errorf("expected cleanup_interval 300s, got %v", r.CleanupInterval)
	}
	if r.StaleConnectionTimeout != 1800*time.Second {
		t.Errorf("expected stale_connection_timeout 1800s, got %v", r.StaleConnectionTimeout)
	}
	if r.FallbackTimeout != 30*time.Second {
		t.Errorf("expected fallback_timeout 30s, got %v", r.FallbackTimeout)
	}
	if r.SuspensionThreshold != 120*time.Second {
		t.Errorf("expected suspension_threshold 120s, got %v", r.SuspensionThreshold)
	}
	if r.PollingModeTimeout != 600*time.Second {
		t.Errorf("expected polling_mode_timeout 600s, got %v", r.PollingModeTimeout)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
node_id: node-7
http:
  listen: ":9090"
recovery:
  max_reconnect_attempts: 5
  suspension_threshold: 60s
  fallback_transports: ["polling", "longpoll"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.NodeID != "node-7" {
		t.Errorf("expected node-7, got %s", cfg.NodeID)
	}
	if cfg.HTTP.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.HTTP.Listen)
	}
	if cfg.Recovery.MaxReconnectAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Recovery.MaxReconnectAttempts)
	}
	if cfg.Recovery.SuspensionThreshold != 60*time.Second {
		t.Errorf("expected 60s threshold, got %v", cfg.Recovery.SuspensionThreshold)
	}
	// 未覆盖的字段保持默认值
	if cfg.Recovery.CleanupInterval != 300*time.Second {
		t.Errorf("default cleanup_interval lost: %v", cfg.Recovery.CleanupInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SESSIONHUB_NODE_ID", "env-node")
	t.Setenv("SESSIONHUB_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("SESSIONHUB_SUSPENSION_THRESHOLD", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.NodeID != "env-node" {
		t.Errorf("expected env-node, got %s", cfg.NodeID)
	}
	if cfg.Recovery.MaxReconnectAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Recovery.MaxReconnectAttempts)
	}
	if cfg.Recovery.SuspensionThreshold != 90*time.Second {
		t.Errorf("expected 90s threshold, got %v", cfg.Recovery.SuspensionThreshold)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty node_id", func(c *Config) { c.NodeID = "" }},
		{"empty listen", func(c *Config) { c.HTTP.Listen = "" }},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }},
		{"zero attempts", func(c *Config) { c.Recovery.MaxReconnectAttempts = 0 }},
		{"zero cleanup interval", func(c *Config) { c.Recovery.CleanupInterval = 0 }},
		{"zero suspension threshold", func(c *Config) { c.Recovery.SuspensionThreshold = 0 }},
		{"stale < activity", func(c *Config) {
			c.Recovery.StaleConnectionTimeout = c.Recovery.ActivityTimeout - time.Second
		}},
		{"fallback enabled without transports", func(c *Config) {
			c.Recovery.EnableTransportFallback = true
			c.Recovery.FallbackTransports = nil
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.NodeID != "node-1" {
		t.Errorf("expected default node-1, got %s", cfg.NodeID)
	}
}
