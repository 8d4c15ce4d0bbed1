// ABOUTME: NOTIFY callback handler feeding device events into the core
// ABOUTME: Gates by sequence number and applies topology, transport, and volume reports
package events

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

// HandleNotify ingests one GENA NOTIFY. Devices do not retry, so every
// answer is immediate; the gate decides whether the body is applied.
// Mounted at NOTIFY /notify/{service}/{deviceID}.
func (m *Manager) HandleNotify(w http.ResponseWriter, r *http.Request) {
	serviceName := chi.URLParam(r, "service")
	deviceID := zone.DeviceID(chi.URLParam(r, "deviceID"))

	svc, ok := upnp.ServiceByName(serviceName)
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}

	sid := r.Header.Get("SID")
	seq, err := strconv.ParseInt(r.Header.Get("SEQ"), 10, 64)
	if err != nil {
		seq = 0
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<18))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	key := subKey{device: deviceID, service: svc.Name}
	switch m.gate.admit(key, sid, seq) {
	case admitUnknown:
		// A straggler from a subscription that no longer exists. Answer
		// 200 so the device does not tear anything down on its side.
		w.WriteHeader(http.StatusOK)
		return
	case admitStale:
		logger.Debugf("dropped stale notify %s/%s seq=%d", deviceID, svc.Name, seq)
		w.WriteHeader(http.StatusOK)
		return
	}

	props, err := upnp.ParsePropertySet(body)
	if err != nil {
		http.Error(w, "bad propertyset", http.StatusBadRequest)
		return
	}

	m.apply(deviceID, svc, props)
	w.WriteHeader(http.StatusOK)
}

// apply routes an admitted notification into the core. Any notification
// counts as a liveness sighting of its sender.
func (m *Manager) apply(device zone.DeviceID, svc upnp.Service, props map[string]string) {
	m.core.TouchDevice(device, time.Now())

	switch svc.Name {
	case upnp.ZoneGroupTopology.Name:
		state, ok := props["ZoneGroupState"]
		if !ok || strings.TrimSpace(state) == "" {
			return
		}
		groups, err := upnp.ParseZoneGroupState(state)
		if err != nil {
			logger.Debugf("notify %s/topology: %v", device, err)
			return
		}
		ApplyZoneGroups(m.core, groups)

	case upnp.AVTransport.Name:
		lastChange, ok := props["LastChange"]
		if !ok {
			return
		}
		ev, ok := upnp.ParseAVTransportEvent(lastChange)
		if !ok {
			return
		}
		// Only the coordinator's transport reflects what the group is
		// doing; member transports are slaved to the coordinator URI.
		g, ok := m.core.GroupOf(device)
		if !ok || g.Coordinator != device {
			return
		}
		state, track := m.core.Transport(device)
		if ev.State != "" {
			state = ev.State
		}
		if ev.Track != nil {
			track = ev.Track
		}
		m.core.ApplyTransport(device, state, track)

	case upnp.RenderingControl.Name:
		lastChange, ok := props["LastChange"]
		if !ok {
			return
		}
		ev, ok := upnp.ParseRenderingEvent(lastChange)
		if !ok {
			return
		}
		vol, _ := m.core.Volume(device)
		if ev.Volume != nil {
			vol.Level = *ev.Volume
		}
		if ev.Muted != nil {
			vol.Muted = *ev.Muted
		}
		m.core.ApplyVolume(device, vol)
	}
}

// ApplyZoneGroups applies one authoritative topology report. Unseen
// members carrying a usable location are registered first so claims
// never reference devices the daemon cannot control; known members are
// touched as live.
func ApplyZoneGroups(core *zone.Core, groups []upnp.ZoneGroup) {
	now := time.Now()
	for _, g := range groups {
		for _, member := range g.Members {
			if _, ok := core.Device(member.ID); ok {
				core.TouchDevice(member.ID, now)
				continue
			}
			if member.Location == "" {
				continue
			}
			addr, err := upnp.AddressFromLocation(member.Location)
			if err != nil {
				continue
			}
			core.UpsertDevice(zone.Device{
				ID:               member.ID,
				Name:             member.Name,
				Address:          addr,
				Location:         member.Location,
				CanGroup:         true,
				CanControlVolume: true,
				LastSeen:         now,
			})
		}
		core.ApplyGroupClaim(g.Coordinator, g.MemberIDs())
	}
}
