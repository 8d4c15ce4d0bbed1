// ABOUTME: Tests for daemon assembly and lifecycle
// ABOUTME: Runs a full daemon against the loopback interface
package app

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/armintoepfer/solo/internal/config"
	"github.com/armintoepfer/solo/internal/protocol"
)

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:          "127.0.0.1:0",
		AdvertiseHost:     "127.0.0.1",
		DiscoveryWindow:   500 * time.Millisecond,
		DiscoveryInterval: time.Minute,
		SilenceTimeout:    time.Minute,
		ExpirySweep:       time.Minute,
		CommandTimeout:    2 * time.Second,
		SubscriptionTTL:   5 * time.Minute,
		RenewMargin:       time.Minute,
		SearchTarget:      "urn:schemas-upnp-org:device:ZonePlayer:1",
		ModelPrefix:       "Sonos",
		LogLevel:          "error",
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 0
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for invalid config")
	}

	cfg = testConfig()
	cfg.SilenceTimeout = cfg.DiscoveryWindow
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error when silence timeout does not exceed the window")
	}
}

func TestDaemonLifecycle(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	defer d.Stop()

	if d.Addr() == "" {
		t.Fatal("expected a bound address after start")
	}

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("probe healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}
	var health protocol.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("expected ok, got %+v", health)
	}
}

func TestDaemonStopIsIdempotent(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	d.Stop()
	d.Stop()
}
