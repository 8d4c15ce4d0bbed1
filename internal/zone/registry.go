// ABOUTME: Device registry tracking known zone players and their liveness
// ABOUTME: Devices appear via discovery and disappear only after going silent
package zone

import (
	"sort"
	"sync"
	"time"
)

// Registry holds every device currently believed to exist on the network.
type Registry struct {
	mu      sync.RWMutex
	gen     *generation
	devices map[DeviceID]Device
}

func newRegistry(gen *generation) *Registry {
	return &Registry{
		gen:     gen,
		devices: make(map[DeviceID]Device),
	}
}

// Upsert adds or refreshes a device. Fields the caller does not know
// (empty strings) never erase previously learned values, so a bare
// topology sighting cannot wipe out a full description fetch.
// The changed result is true only for observable changes; a pure
// last-seen refresh does not count.
func (r *Registry) Upsert(dev Device) (Device, bool) {
	if dev.ID == "" {
		return Device{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.devices[dev.ID]
	if !exists {
		if dev.LastSeen.IsZero() {
			dev.LastSeen = time.Now()
		}
		r.devices[dev.ID] = dev
		r.gen.bump()
		return dev, true
	}

	merged := cur
	if dev.Name != "" {
		merged.Name = dev.Name
	}
	if dev.Model != "" {
		merged.Model = dev.Model
	}
	if dev.Address != "" {
		merged.Address = dev.Address
	}
	if dev.Location != "" {
		merged.Location = dev.Location
	}
	if dev.CanGroup {
		merged.CanGroup = true
	}
	if dev.CanControlVolume {
		merged.CanControlVolume = true
	}
	if dev.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = dev.LastSeen
	}

	changed := merged.Name != cur.Name ||
		merged.Model != cur.Model ||
		merged.Address != cur.Address ||
		merged.Location != cur.Location ||
		merged.CanGroup != cur.CanGroup ||
		merged.CanControlVolume != cur.CanControlVolume

	r.devices[dev.ID] = merged
	if changed {
		r.gen.bump()
	}
	return merged, changed
}

// Touch refreshes a device's last-seen time, e.g. on an SSDP alive
// announcement or an incoming event.
func (r *Registry) Touch(id DeviceID, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return false
	}
	if now.After(dev.LastSeen) {
		dev.LastSeen = now
		r.devices[id] = dev
	}
	return true
}

// Get returns a copy of the device.
func (r *Registry) Get(id DeviceID) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	return dev, ok
}

// List returns all devices sorted by name, then ID for stable output.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len reports how many devices are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Expire removes every device silent for longer than the threshold and
// returns the removals. Devices refreshed by an active discovery pass
// keep a fresh last-seen and are never candidates.
func (r *Registry) Expire(now time.Time, silence time.Duration) []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Device
	for id, dev := range r.devices {
		if now.Sub(dev.LastSeen) > silence {
			removed = append(removed, dev)
			delete(r.devices, id)
		}
	}
	if len(removed) > 0 {
		r.gen.bump()
		sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	}
	return removed
}
