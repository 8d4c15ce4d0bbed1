// ABOUTME: Tests for the device registry
// ABOUTME: Covers upsert merging, liveness refresh, and silence expiry
package zone

import (
	"testing"
	"time"
)

func testDevice(id, name string) Device {
	return Device{
		ID:               DeviceID(id),
		Name:             name,
		Model:            "Sonos One",
		Address:          "10.0.0.10:1400",
		Location:         "http://10.0.0.10:1400/xml/device_description.xml",
		CanGroup:         true,
		CanControlVolume: true,
		LastSeen:         time.Now(),
	}
}

func TestUpsertCreatesDevice(t *testing.T) {
	reg := newRegistry(&generation{})

	dev, changed := reg.Upsert(testDevice("RINCON_A", "Kitchen"))
	if !changed {
		t.Error("expected changed=true for a new device")
	}
	if dev.ID != "RINCON_A" {
		t.Errorf("expected RINCON_A, got %s", dev.ID)
	}

	got, ok := reg.Get("RINCON_A")
	if !ok {
		t.Fatal("device not found after upsert")
	}
	if got.Name != "Kitchen" {
		t.Errorf("expected Kitchen, got %s", got.Name)
	}
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	reg := newRegistry(&generation{})

	if _, changed := reg.Upsert(Device{Name: "Ghost"}); changed {
		t.Error("upsert without an ID should change nothing")
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d devices", reg.Len())
	}
}

func TestUpsertPreservesKnownFields(t *testing.T) {
	reg := newRegistry(&generation{})
	reg.Upsert(testDevice("RINCON_A", "Kitchen"))

	// A bare topology sighting knows the name but not the model.
	dev, changed := reg.Upsert(Device{
		ID:       "RINCON_A",
		Name:     "Kitchen",
		LastSeen: time.Now(),
	})
	if changed {
		t.Error("re-upsert with no new information should not count as a change")
	}
	if dev.Model != "Sonos One" {
		t.Errorf("model should survive a partial upsert, got %q", dev.Model)
	}
	if dev.Address == "" {
		t.Error("address should survive a partial upsert")
	}
}

func TestUpsertDetectsRename(t *testing.T) {
	reg := newRegistry(&generation{})
	reg.Upsert(testDevice("RINCON_A", "Kitchen"))

	dev := testDevice("RINCON_A", "Dining Room")
	_, changed := reg.Upsert(dev)
	if !changed {
		t.Error("rename should count as a change")
	}
}

func TestUpsertLastSeenOnlyIsNotAChange(t *testing.T) {
	gen := &generation{}
	reg := newRegistry(gen)
	reg.Upsert(testDevice("RINCON_A", "Kitchen"))
	before := gen.current()

	dev := testDevice("RINCON_A", "Kitchen")
	dev.LastSeen = time.Now().Add(time.Minute)
	if _, changed := reg.Upsert(dev); changed {
		t.Error("a pure last-seen refresh should not count as a change")
	}
	if gen.current() != before {
		t.Error("a pure last-seen refresh should not advance the generation")
	}
}

func TestTouchRefreshesLastSeen(t *testing.T) {
	reg := newRegistry(&generation{})
	dev := testDevice("RINCON_A", "Kitchen")
	dev.LastSeen = time.Now().Add(-time.Hour)
	reg.Upsert(dev)

	now := time.Now()
	if !reg.Touch("RINCON_A", now) {
		t.Fatal("touch of a known device should succeed")
	}
	got, _ := reg.Get("RINCON_A")
	if !got.LastSeen.Equal(now) {
		t.Errorf("expected last-seen %v, got %v", now, got.LastSeen)
	}

	if reg.Touch("RINCON_UNKNOWN", now) {
		t.Error("touch of an unknown device should report false")
	}
}

func TestExpireRemovesSilentDevices(t *testing.T) {
	reg := newRegistry(&generation{})

	fresh := testDevice("RINCON_A", "Kitchen")
	reg.Upsert(fresh)

	stale := testDevice("RINCON_B", "Attic")
	stale.LastSeen = time.Now().Add(-5 * time.Minute)
	reg.Upsert(stale)

	removed := reg.Expire(time.Now(), 90*time.Second)
	if len(removed) != 1 {
		t.Fatalf("expected 1 removal, got %d", len(removed))
	}
	if removed[0].ID != "RINCON_B" {
		t.Errorf("expected RINCON_B removed, got %s", removed[0].ID)
	}
	if _, ok := reg.Get("RINCON_B"); ok {
		t.Error("expired device should be gone")
	}
	if _, ok := reg.Get("RINCON_A"); !ok {
		t.Error("fresh device should survive the sweep")
	}
}

func TestExpireNothingSilent(t *testing.T) {
	gen := &generation{}
	reg := newRegistry(gen)
	reg.Upsert(testDevice("RINCON_A", "Kitchen"))
	before := gen.current()

	if removed := reg.Expire(time.Now(), 90*time.Second); len(removed) != 0 {
		t.Errorf("expected no removals, got %d", len(removed))
	}
	if gen.current() != before {
		t.Error("an empty sweep should not advance the generation")
	}
}

func TestListSortedByName(t *testing.T) {
	reg := newRegistry(&generation{})
	reg.Upsert(testDevice("RINCON_C", "Office"))
	reg.Upsert(testDevice("RINCON_A", "Kitchen"))
	reg.Upsert(testDevice("RINCON_B", "Bedroom"))

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(list))
	}
	want := []string{"Bedroom", "Kitchen", "Office"}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, list[i].Name)
		}
	}
}
