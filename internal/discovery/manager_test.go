// ABOUTME: Tests for the discovery pipeline's adoption and announcement paths
// ABOUTME: Uses fake description and topology endpoints over httptest
package discovery

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/armintoepfer/solo/internal/events"
	"github.com/armintoepfer/solo/internal/ssdp"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

func newTestManager(t *testing.T) (*zone.Core, *Manager) {
	t.Helper()
	core := zone.New()
	client := upnp.NewClient()
	ev := events.NewManager(events.Config{
		Callback:    "http://127.0.0.1:0",
		TTL:         time.Minute,
		RenewMargin: 10 * time.Second,
		Timeout:     200 * time.Millisecond,
	}, client, core)
	m := NewManager(Config{
		Target:      "urn:schemas-upnp-org:device:ZonePlayer:1",
		Window:      time.Second,
		Interval:    time.Minute,
		Timeout:     time.Second,
		ModelPrefix: "Sonos",
		Silence:     time.Minute,
		Sweep:       time.Minute,
	}, client, core, ev)
	return core, m
}

func descriptionBody(udn, room, model string) string {
	return `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <UDN>uuid:` + udn + `</UDN>
    <friendlyName>10.0.0.5 - Sonos Play:1</friendlyName>
    <roomName>` + room + `</roomName>
    <modelName>` + model + `</modelName>
  </device>
</root>`
}

// startDescribed serves a device description and swallows the event
// subscription and priming traffic that adoption sends afterwards.
func startDescribed(t *testing.T, udn, room, model string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(descriptionBody(udn, room, model)))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/xml/device_description.xml"
}

func TestLocateRegistersMatchingDevice(t *testing.T) {
	core, m := newTestManager(t)
	location := startDescribed(t, "RINCON_KITCHEN", "Kitchen", "Sonos Play:1")

	dev, ok := m.locate(location)
	if !ok {
		t.Fatal("expected device to be adopted")
	}
	if dev.ID != "RINCON_KITCHEN" || dev.Name != "Kitchen" {
		t.Errorf("unexpected identity: %+v", dev)
	}

	stored, ok := core.Device("RINCON_KITCHEN")
	if !ok {
		t.Fatal("expected device in registry")
	}
	if stored.Location != location {
		t.Errorf("expected location %q, got %q", location, stored.Location)
	}
	if !strings.Contains(location, stored.Address) {
		t.Errorf("expected address derived from location, got %q", stored.Address)
	}
	if g, ok := core.GroupOf("RINCON_KITCHEN"); !ok || g.Coordinator != "RINCON_KITCHEN" {
		t.Errorf("expected singleton group for new device, got %+v", g)
	}
}

func TestLocateFiltersOtherVendors(t *testing.T) {
	core, m := newTestManager(t)
	location := startDescribed(t, "CAST_123", "Living Room", "Chromecast Audio")

	if _, ok := m.locate(location); ok {
		t.Fatal("expected non-matching model to be ignored")
	}
	if devs := core.Devices(); len(devs) != 0 {
		t.Errorf("expected empty registry, got %v", devs)
	}
}

func TestLocateUnreachableLocation(t *testing.T) {
	core, m := newTestManager(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	location := srv.URL + "/xml/device_description.xml"
	srv.Close()

	if _, ok := m.locate(location); ok {
		t.Fatal("expected unreachable location to be skipped")
	}
	if devs := core.Devices(); len(devs) != 0 {
		t.Errorf("expected empty registry, got %v", devs)
	}
}

func TestHandleAnnouncementTouchesKnownDevice(t *testing.T) {
	core, m := newTestManager(t)
	stale := time.Now().Add(-time.Hour)
	core.UpsertDevice(zone.Device{
		ID:       "RINCON_A",
		Name:     "Kitchen",
		Address:  "10.0.0.5:1400",
		LastSeen: stale,
	})

	m.handleAnnouncement(ssdp.Announcement{
		USN:      "uuid:RINCON_A::urn:schemas-upnp-org:device:ZonePlayer:1",
		Location: "http://10.0.0.5:1400/xml/device_description.xml",
	})

	dev, _ := core.Device("RINCON_A")
	if !dev.LastSeen.After(stale) {
		t.Error("expected alive announcement to refresh last-seen")
	}
}

func TestHandleAnnouncementAdoptsUnknownDevice(t *testing.T) {
	core, m := newTestManager(t)
	location := startDescribed(t, "RINCON_NEW", "Patio", "Sonos Roam")

	m.handleAnnouncement(ssdp.Announcement{
		USN:      "uuid:RINCON_NEW::urn:schemas-upnp-org:device:ZonePlayer:1",
		Location: location,
	})

	if _, ok := core.Device("RINCON_NEW"); !ok {
		t.Error("expected announcing device to be adopted")
	}
}

func TestHandleAnnouncementByebyeKeepsDevice(t *testing.T) {
	core, m := newTestManager(t)
	core.UpsertDevice(zone.Device{
		ID:       "RINCON_A",
		Name:     "Kitchen",
		Address:  "10.0.0.5:1400",
		LastSeen: time.Now(),
	})

	m.handleAnnouncement(ssdp.Announcement{
		USN:    "uuid:RINCON_A::urn:schemas-upnp-org:device:ZonePlayer:1",
		Byebye: true,
	})

	// Removal is silence-driven; byebye alone changes nothing.
	if _, ok := core.Device("RINCON_A"); !ok {
		t.Error("expected device to survive a byebye")
	}
}

func TestSeedTopologyFirstReachableWins(t *testing.T) {
	core, m := newTestManager(t)

	state := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:7">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen" Location="http://10.0.0.5:1400/xml/device_description.xml"/>` +
		`<ZoneGroupMember UUID="RINCON_B" ZoneName="Den" Location="http://10.0.0.6:1400/xml/device_description.xml"/>` +
		`</ZoneGroup></ZoneGroups></ZoneGroupState>`
	escaped := strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(state)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>` +
			`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
			`<u:GetZoneGroupStateResponse xmlns:u="urn:schemas-upnp-org:service:ZoneGroupTopology:1">` +
			`<ZoneGroupState>` + escaped + `</ZoneGroupState>` +
			`</u:GetZoneGroupStateResponse></s:Body></s:Envelope>`))
	}))
	t.Cleanup(srv.Close)

	dead := zone.Device{ID: "RINCON_DEAD", Address: "127.0.0.1:1", LastSeen: time.Now()}
	live := zone.Device{ID: "RINCON_A", Address: strings.TrimPrefix(srv.URL, "http://"), LastSeen: time.Now()}
	core.UpsertDevice(dead)
	core.UpsertDevice(live)

	m.seedTopology([]zone.Device{dead, live})

	g, ok := core.GroupOf("RINCON_A")
	if !ok || g.Coordinator != "RINCON_A" {
		t.Fatalf("expected claim applied, got %+v", g)
	}
	if len(g.Members) != 2 {
		t.Fatalf("expected both members assigned, got %+v", g.Members)
	}
	// The unseen member arrived with a location, so it joined the registry.
	if dev, ok := core.Device("RINCON_B"); !ok || dev.Address != "10.0.0.6:1400" {
		t.Errorf("expected RINCON_B upserted from the claim, got %+v", dev)
	}
}
