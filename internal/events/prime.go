// ABOUTME: State priming for freshly discovered devices
// ABOUTME: Polls volume and transport so snapshots are useful before events arrive
package events

import (
	"context"

	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

// PrimeDevice polls a device's rendering state. Polled values never
// override evented ones: once a source has delivered a notification the
// poll result is discarded.
func (m *Manager) PrimeDevice(ctx context.Context, dev zone.Device) {
	key := subKey{device: dev.ID, service: upnp.RenderingControl.Name}
	if m.gate.hasEvents(key) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	level, err := m.client.GetVolume(cctx, dev.Address)
	if err != nil {
		logger.Debugf("prime volume %s: %v", dev.ID, err)
		return
	}
	muted, err := m.client.GetMute(cctx, dev.Address)
	if err != nil {
		logger.Debugf("prime mute %s: %v", dev.ID, err)
		muted = false
	}

	// An event may have landed while we were polling; it wins.
	if m.gate.hasEvents(key) {
		return
	}
	m.core.ApplyVolume(dev.ID, zone.VolumeState{Level: level, Muted: muted})
}

// PrimeGroup polls the transport state of a group coordinator.
func (m *Manager) PrimeGroup(ctx context.Context, coordinator zone.Device) {
	key := subKey{device: coordinator.ID, service: upnp.AVTransport.Name}
	if m.gate.hasEvents(key) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	state, err := m.client.GetTransportInfo(cctx, coordinator.Address)
	if err != nil {
		logger.Debugf("prime transport %s: %v", coordinator.ID, err)
		return
	}

	var track *zone.Track
	if info, err := m.client.GetPositionInfo(cctx, coordinator.Address); err == nil {
		if t, ok := upnp.ParseDIDL(info.TrackMetaData); ok {
			if d := upnp.ParseClockDuration(info.TrackDuration); d > 0 {
				t.Duration = d
			}
			if p := upnp.ParseClockDuration(info.RelTime); p > 0 {
				t.Position = p
			}
			track = &t
		}
	}

	if m.gate.hasEvents(key) {
		return
	}
	m.core.ApplyTransport(coordinator.ID, state, track)
}
