// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, environment overrides, and validation
package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.DiscoveryWindow != 3*time.Second {
		t.Errorf("expected 3s discovery window, got %v", cfg.DiscoveryWindow)
	}
	if cfg.SilenceTimeout != 90*time.Second {
		t.Errorf("expected 90s silence timeout, got %v", cfg.SilenceTimeout)
	}
	if cfg.CommandTimeout != 5*time.Second {
		t.Errorf("expected 5s command timeout, got %v", cfg.CommandTimeout)
	}
	if cfg.SearchTarget != "urn:schemas-upnp-org:device:ZonePlayer:1" {
		t.Errorf("unexpected search target %s", cfg.SearchTarget)
	}
	if cfg.MQTTBroker != "" {
		t.Errorf("bridge should be disabled by default, got broker %s", cfg.MQTTBroker)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOLO_HTTP_ADDR", ":9090")
	t.Setenv("SOLO_SILENCE_TIMEOUT", "2m")
	t.Setenv("SOLO_MQTT_BROKER", "tcp://broker.local:1883")

	cfg := Load()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.HTTPAddr)
	}
	if cfg.SilenceTimeout != 2*time.Minute {
		t.Errorf("expected 2m silence timeout, got %v", cfg.SilenceTimeout)
	}
	if cfg.MQTTBroker != "tcp://broker.local:1883" {
		t.Errorf("expected broker override, got %s", cfg.MQTTBroker)
	}
}

func TestLoadBoolOverride(t *testing.T) {
	t.Setenv("SOLO_MDNS", "true")

	cfg := Load()

	if !cfg.MDNS {
		t.Error("expected mdns browsing enabled")
	}
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("SOLO_COMMAND_TIMEOUT", "not-a-duration")

	cfg := Load()

	if cfg.CommandTimeout != 5*time.Second {
		t.Errorf("expected fallback 5s, got %v", cfg.CommandTimeout)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTPAddr = "" }},
		{"zero window", func(c *Config) { c.DiscoveryWindow = 0 }},
		{"silence below window", func(c *Config) { c.SilenceTimeout = time.Second }},
		{"zero command timeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"ttl below margin", func(c *Config) { c.SubscriptionTTL = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
