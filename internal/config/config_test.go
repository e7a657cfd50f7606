package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8090 {
		t.Errorf("Port = %d, want 8090", cfg.Port)
	}
	if cfg.AnalyticsMode != AnalyticsJetStream {
		t.Errorf("AnalyticsMode = %q, want %q", cfg.AnalyticsMode, AnalyticsJetStream)
	}
	if cfg.MaxFrameBytes != 16<<20 {
		t.Errorf("MaxFrameBytes = %d, want %d", cfg.MaxFrameBytes, 16<<20)
	}
	if cfg.SessionIdleTimeout != 10*time.Minute {
		t.Errorf("SessionIdleTimeout = %s, want 10m", cfg.SessionIdleTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ANALYTICS_MODE", "inline")
	t.Setenv("MAX_FRAME_BYTES", "4096")
	t.Setenv("NATS_STORE_DIR", "/tmp/nats")
	t.Setenv("SESSION_IDLE_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.AnalyticsMode != AnalyticsInline {
		t.Errorf("AnalyticsMode = %q, want %q", cfg.AnalyticsMode, AnalyticsInline)
	}
	if cfg.MaxFrameBytes != 4096 {
		t.Errorf("MaxFrameBytes = %d, want 4096", cfg.MaxFrameBytes)
	}
	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Errorf("SessionIdleTimeout = %s, want 90s", cfg.SessionIdleTimeout)
	}
	if cfg.NATSStoreDir != "/tmp/nats" {
		t.Errorf("NATSStoreDir = %q, want /tmp/nats", cfg.NATSStoreDir)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown_mode", "ANALYTICS_MODE", "kafka"},
		{"zero_frame_limit", "MAX_FRAME_BYTES", "0"},
		{"non_numeric_port", "PORT", "eighty"},
		{"zero_idle_timeout", "SESSION_IDLE_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load with %s=%q: want error", tt.key, tt.value)
			}
		})
	}
}
