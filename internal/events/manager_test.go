// ABOUTME: Tests for the subscription manager and sequence gate
// ABOUTME: Covers gating rules, subscription lifecycle, and renewal fallback
package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

func testConfig(callback string) Config {
	return Config{
		Callback:    callback,
		TTL:         300 * time.Second,
		RenewMargin: 60 * time.Second,
		Timeout:     2 * time.Second,
	}
}

// fakeZonePlayer answers GENA verbs with a fixed SID and counts calls.
type fakeZonePlayer struct {
	sid          string
	subscribes   int
	renewals     int
	unsubscribes int
	rejectRenew  bool
}

func (f *fakeZonePlayer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "SUBSCRIBE" && r.Header.Get("SID") == "":
			f.subscribes++
			w.Header().Set("SID", f.sid)
			w.Header().Set("TIMEOUT", "Second-300")
			w.WriteHeader(http.StatusOK)
		case r.Method == "SUBSCRIBE":
			f.renewals++
			if f.rejectRenew {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			w.Header().Set("SID", r.Header.Get("SID"))
			w.Header().Set("TIMEOUT", "Second-300")
			w.WriteHeader(http.StatusOK)
		case r.Method == "UNSUBSCRIBE":
			f.unsubscribes++
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func startFakePlayer(t *testing.T, f *fakeZonePlayer) string {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func TestGateAdmission(t *testing.T) {
	g := newGate()
	key := subKey{device: "RINCON_A", service: "rendering"}

	if got := g.admit(key, "uuid:s1", 0); got != admitUnknown {
		t.Errorf("expected unknown before reset, got %d", got)
	}

	g.reset(key)
	g.confirm(key, "uuid:s1")

	if got := g.admit(key, "uuid:s1", 0); got != admitApply {
		t.Errorf("expected seq 0 to apply, got %d", got)
	}
	if got := g.admit(key, "uuid:s1", 0); got != admitStale {
		t.Errorf("expected duplicate seq to be stale, got %d", got)
	}
	if got := g.admit(key, "uuid:s1", 5); got != admitApply {
		t.Errorf("expected forward seq to apply, got %d", got)
	}
	if got := g.admit(key, "uuid:s1", 3); got != admitStale {
		t.Errorf("expected out-of-order seq to be stale, got %d", got)
	}
	if got := g.admit(key, "uuid:other", 6); got != admitUnknown {
		t.Errorf("expected foreign SID to be unknown, got %d", got)
	}

	// A fresh subscription resets the sequence.
	g.reset(key)
	g.confirm(key, "uuid:s2")
	if got := g.admit(key, "uuid:s2", 0); got != admitApply {
		t.Errorf("expected seq 0 to apply after reset, got %d", got)
	}
}

func TestGateAdoptsSIDFromFirstNotify(t *testing.T) {
	// The initial NOTIFY can beat the subscribe response; the armed gate
	// adopts its SID instead of dropping the event.
	g := newGate()
	key := subKey{device: "RINCON_A", service: "avtransport"}

	g.reset(key)
	if got := g.admit(key, "uuid:early", 0); got != admitApply {
		t.Errorf("expected armed gate to adopt first SID, got %d", got)
	}
	g.confirm(key, "uuid:early")
	if got := g.admit(key, "uuid:early", 1); got != admitApply {
		t.Errorf("expected confirmed SID to keep applying, got %d", got)
	}
}

func TestGateHasEvents(t *testing.T) {
	g := newGate()
	key := subKey{device: "RINCON_A", service: "rendering"}

	if g.hasEvents(key) {
		t.Error("expected no events before reset")
	}
	g.reset(key)
	g.confirm(key, "uuid:s1")
	if g.hasEvents(key) {
		t.Error("expected no events before first notify")
	}
	g.admit(key, "uuid:s1", 0)
	if !g.hasEvents(key) {
		t.Error("expected events after first notify")
	}
	g.drop(key)
	if g.hasEvents(key) {
		t.Error("expected no events after drop")
	}
}

func TestSubscribeOpensAllServices(t *testing.T) {
	fake := &fakeZonePlayer{sid: "uuid:s1"}
	addr := startFakePlayer(t, fake)

	core := zone.New()
	m := NewManager(testConfig("http://127.0.0.1:8080"), upnp.NewClient(), core)

	dev := zone.Device{ID: "RINCON_A", Name: "Kitchen", Address: addr}
	m.Subscribe(context.Background(), dev)

	if fake.subscribes != len(upnp.Services) {
		t.Errorf("expected %d subscriptions, got %d", len(upnp.Services), fake.subscribes)
	}

	// A second pass is a no-op while subscriptions are live.
	m.Subscribe(context.Background(), dev)
	if fake.subscribes != len(upnp.Services) {
		t.Errorf("expected resubscribe to be skipped, got %d", fake.subscribes)
	}
}

func TestDropUnsubscribes(t *testing.T) {
	fake := &fakeZonePlayer{sid: "uuid:s1"}
	addr := startFakePlayer(t, fake)

	core := zone.New()
	m := NewManager(testConfig("http://127.0.0.1:8080"), upnp.NewClient(), core)

	m.Subscribe(context.Background(), zone.Device{ID: "RINCON_A", Address: addr})
	m.Drop("RINCON_A")

	if fake.unsubscribes != len(upnp.Services) {
		t.Errorf("expected %d unsubscribes, got %d", len(upnp.Services), fake.unsubscribes)
	}

	// The gate is cold again: late notifications are unknown.
	key := subKey{device: "RINCON_A", service: upnp.AVTransport.Name}
	if got := m.gate.admit(key, "uuid:s1", 99); got != admitUnknown {
		t.Errorf("expected dropped source to be unknown, got %d", got)
	}
}

func TestRenewDueRefreshesExpiring(t *testing.T) {
	fake := &fakeZonePlayer{sid: "uuid:s1"}
	addr := startFakePlayer(t, fake)

	core := zone.New()
	m := NewManager(testConfig("http://127.0.0.1:8080"), upnp.NewClient(), core)
	m.Subscribe(context.Background(), zone.Device{ID: "RINCON_A", Address: addr})

	// Nothing is due yet.
	m.renewDue(time.Now())
	if fake.renewals != 0 {
		t.Errorf("expected no renewals, got %d", fake.renewals)
	}

	// Pretend time has moved into the renewal margin.
	m.renewDue(time.Now().Add(299 * time.Second))
	if fake.renewals != len(upnp.Services) {
		t.Errorf("expected %d renewals, got %d", len(upnp.Services), fake.renewals)
	}
}

func TestRenewRejectedResubscribes(t *testing.T) {
	fake := &fakeZonePlayer{sid: "uuid:s1", rejectRenew: true}
	addr := startFakePlayer(t, fake)

	core := zone.New()
	core.UpsertDevice(zone.Device{ID: "RINCON_A", Name: "Kitchen", Address: addr})

	m := NewManager(testConfig("http://127.0.0.1:8080"), upnp.NewClient(), core)
	m.Subscribe(context.Background(), zone.Device{ID: "RINCON_A", Address: addr})

	before := fake.subscribes
	m.renewDue(time.Now().Add(299 * time.Second))

	if fake.subscribes != before+len(upnp.Services) {
		t.Errorf("expected fresh subscriptions after rejected renewal, got %d", fake.subscribes)
	}
}

func TestStopTearsDown(t *testing.T) {
	fake := &fakeZonePlayer{sid: "uuid:s1"}
	addr := startFakePlayer(t, fake)

	core := zone.New()
	m := NewManager(testConfig("http://127.0.0.1:8080"), upnp.NewClient(), core)
	m.Start()
	m.Subscribe(context.Background(), zone.Device{ID: "RINCON_A", Address: addr})

	m.Stop()
	if fake.unsubscribes != len(upnp.Services) {
		t.Errorf("expected %d unsubscribes on stop, got %d", len(upnp.Services), fake.unsubscribes)
	}
}
