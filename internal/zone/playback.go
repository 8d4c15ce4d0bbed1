// ABOUTME: Playback state cache fed by device notifications
// ABOUTME: Tracks per-group transport state and per-device rendering state
package zone

import "sync"

type transportEntry struct {
	state TransportState
	track *Track
}

// Playback caches the last reported transport state per group coordinator
// and the last reported volume per device. Entries are overwritten
// wholesale by each fresh notification.
type Playback struct {
	mu        sync.Mutex
	gen       *generation
	transport map[DeviceID]transportEntry
	volumes   map[DeviceID]VolumeState
}

func newPlayback(gen *generation) *Playback {
	return &Playback{
		gen:       gen,
		transport: make(map[DeviceID]transportEntry),
		volumes:   make(map[DeviceID]VolumeState),
	}
}

// SetTransport records the transport state reported by a coordinator.
// Reporting the same state twice changes nothing.
func (p *Playback) SetTransport(coordinator DeviceID, state TransportState, track *Track) bool {
	if coordinator == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry := transportEntry{state: state}
	if track != nil {
		copied := *track
		entry.track = &copied
	}

	cur, ok := p.transport[coordinator]
	if ok && cur.state == entry.state && equalTrack(cur.track, entry.track) {
		return false
	}
	p.transport[coordinator] = entry
	p.gen.bump()
	return true
}

// SetVolume records a device's rendering state.
func (p *Playback) SetVolume(device DeviceID, vol VolumeState) bool {
	if device == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.volumes[device]; ok && cur == vol {
		return false
	}
	p.volumes[device] = vol
	p.gen.bump()
	return true
}

// Transport returns the cached transport state for a coordinator,
// defaulting to stopped when nothing has been reported yet.
func (p *Playback) Transport(coordinator DeviceID) (TransportState, *Track) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.transport[coordinator]
	if !ok {
		return TransportStopped, nil
	}
	if entry.track == nil {
		return entry.state, nil
	}
	copied := *entry.track
	return entry.state, &copied
}

// Volume returns the cached rendering state for a device.
func (p *Playback) Volume(device DeviceID) (VolumeState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	vol, ok := p.volumes[device]
	return vol, ok
}

// Remove drops all cached state for the given devices.
func (p *Playback) Remove(ids ...DeviceID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := false
	for _, id := range ids {
		if _, ok := p.transport[id]; ok {
			delete(p.transport, id)
			changed = true
		}
		if _, ok := p.volumes[id]; ok {
			delete(p.volumes, id)
			changed = true
		}
	}
	if changed {
		p.gen.bump()
	}
	return changed
}

func equalTrack(a, b *Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
