// ABOUTME: Core state owner combining registry, topology, and playback
// ABOUTME: Serves consistent snapshots and generation-tagged change deltas
package zone

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// generation is the process-wide mutation counter. Stores bump it inside
// their own critical sections so a snapshot can never observe new data
// under an old generation.
type generation struct {
	n atomic.Uint64
}

func (g *generation) bump() uint64    { return g.n.Add(1) }
func (g *generation) current() uint64 { return g.n.Load() }

// Core owns the whole in-memory model. There is exactly one Core per
// daemon; everything else receives it explicitly.
type Core struct {
	gen  *generation
	reg  *Registry
	topo *Topology
	play *Playback

	watchMu  sync.Mutex
	watchers map[uint64]chan Delta
	nextID   uint64
}

// New creates an empty core. State is rebuilt from discovery and device
// notifications; nothing survives a restart.
func New() *Core {
	gen := &generation{}
	return &Core{
		gen:      gen,
		reg:      newRegistry(gen),
		topo:     newTopology(gen),
		play:     newPlayback(gen),
		watchers: make(map[uint64]chan Delta),
	}
}

// Generation returns the current mutation counter.
func (c *Core) Generation() uint64 {
	return c.gen.current()
}

// Device returns a copy of one registry entry.
func (c *Core) Device(id DeviceID) (Device, bool) {
	return c.reg.Get(id)
}

// Devices lists the registry in stable order.
func (c *Core) Devices() []Device {
	return c.reg.List()
}

// Groups returns the current topology partition.
func (c *Core) Groups() []Group {
	return c.topo.Groups()
}

// GroupOf returns the group containing the given device.
func (c *Core) GroupOf(id DeviceID) (Group, bool) {
	return c.topo.GroupOf(id)
}

// CoordinatorDevice resolves the device currently coordinating the group
// that contains id.
func (c *Core) CoordinatorDevice(id DeviceID) (Device, bool) {
	coord, ok := c.topo.CoordinatorOf(id)
	if !ok {
		return Device{}, false
	}
	return c.reg.Get(coord)
}

// GroupDevices returns the registry entries for every member of the group
// containing id.
func (c *Core) GroupDevices(id DeviceID) []Device {
	g, ok := c.topo.GroupOf(id)
	if !ok {
		return nil
	}
	devs := make([]Device, 0, len(g.Members))
	for _, m := range g.Members {
		if dev, ok := c.reg.Get(m); ok {
			devs = append(devs, dev)
		}
	}
	return devs
}

// Volume returns the cached rendering state of a device.
func (c *Core) Volume(id DeviceID) (VolumeState, bool) {
	return c.play.Volume(id)
}

// Transport returns the cached transport state for a group coordinator.
// Partial notifications merge against this before being applied.
func (c *Core) Transport(coordinator DeviceID) (TransportState, *Track) {
	return c.play.Transport(coordinator)
}

// IsPending reports whether a device's group assignment is optimistic.
func (c *Core) IsPending(id DeviceID) bool {
	return c.topo.IsPending(id)
}

// UpsertDevice adds or refreshes a device and guarantees it has a group
// assignment. Returns true when something observable changed.
func (c *Core) UpsertDevice(dev Device) bool {
	merged, changed := c.reg.Upsert(dev)
	if merged.ID == "" {
		return false
	}
	created := c.topo.Ensure(merged.ID)
	if !changed && !created {
		return false
	}

	delta := Delta{
		Generation: c.gen.current(),
		Kind:       DeltaDevice,
		Devices:    []Device{merged},
	}
	if created {
		delta.Groups = c.groupViews(merged.ID)
	}
	c.publish(delta)
	return true
}

// TouchDevice refreshes a device's last-seen time without emitting a delta.
func (c *Core) TouchDevice(id DeviceID, now time.Time) bool {
	return c.reg.Touch(id, now)
}

// ExpireDevices removes devices silent beyond the threshold and repairs
// the topology and playback caches. Returns the removed devices.
func (c *Core) ExpireDevices(now time.Time, silence time.Duration) []Device {
	removed := c.reg.Expire(now, silence)
	if len(removed) == 0 {
		return nil
	}

	ids := make([]DeviceID, len(removed))
	for i, dev := range removed {
		ids[i] = dev.ID
	}
	c.topo.Remove(ids...)
	c.play.Remove(ids...)

	c.publish(Delta{
		Generation: c.gen.current(),
		Kind:       DeltaRemoved,
		Removed:    ids,
		Groups:     c.allGroupViews(),
	})
	return removed
}

// ApplyGroupClaim applies one authoritative topology claim.
func (c *Core) ApplyGroupClaim(coordinator DeviceID, members []DeviceID) bool {
	if !c.topo.ApplyClaim(coordinator, members) {
		return false
	}
	c.publish(Delta{
		Generation: c.gen.current(),
		Kind:       DeltaTopology,
		Groups:     c.allGroupViews(),
	})
	return true
}

// ApplyTransport records the transport state reported by a group
// coordinator.
func (c *Core) ApplyTransport(coordinator DeviceID, state TransportState, track *Track) bool {
	if !c.play.SetTransport(coordinator, state, track) {
		return false
	}
	c.publish(Delta{
		Generation: c.gen.current(),
		Kind:       DeltaPlayback,
		Groups:     c.groupViews(coordinator),
	})
	return true
}

// ApplyVolume records the rendering state reported by a device.
func (c *Core) ApplyVolume(device DeviceID, vol VolumeState) bool {
	if !c.play.SetVolume(device, vol) {
		return false
	}
	coord, ok := c.topo.CoordinatorOf(device)
	if !ok {
		coord = device
	}
	c.publish(Delta{
		Generation: c.gen.current(),
		Kind:       DeltaPlayback,
		Groups:     c.groupViews(coord),
	})
	return true
}

// BeginJoin optimistically moves device into target's group and returns
// the rollback ticket for the dispatcher.
func (c *Core) BeginJoin(device, target DeviceID) (JoinTicket, bool) {
	ticket, changed := c.topo.BeginJoin(device, target)
	if changed {
		c.publish(Delta{
			Generation: c.gen.current(),
			Kind:       DeltaTopology,
			Groups:     c.allGroupViews(),
		})
	}
	return ticket, changed
}

// BeginLeave optimistically makes device standalone.
func (c *Core) BeginLeave(device DeviceID) (JoinTicket, bool) {
	ticket, changed := c.topo.BeginLeave(device)
	if changed {
		c.publish(Delta{
			Generation: c.gen.current(),
			Kind:       DeltaTopology,
			Groups:     c.allGroupViews(),
		})
	}
	return ticket, changed
}

// Rollback undoes one optimistic move if it is still pending.
func (c *Core) Rollback(ticket JoinTicket) bool {
	if !c.topo.Rollback(ticket) {
		return false
	}
	c.publish(Delta{
		Generation: c.gen.current(),
		Kind:       DeltaTopology,
		Groups:     c.allGroupViews(),
	})
	return true
}

// Watch registers a delta consumer. The channel is buffered; deltas to a
// full channel are dropped, and consumers recover by re-fetching the
// snapshot. The cancel func must be called to release the watcher.
func (c *Core) Watch(buffer int) (<-chan Delta, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Delta, buffer)

	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	cancel := func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		if _, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (c *Core) publish(delta Delta) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- delta:
		default:
		}
	}
}

// Snapshot copies the whole model out under all three entity locks, held
// only for the duration of the copy. Every snapshot satisfies the
// structural invariants: referenced devices exist, and each device
// appears in exactly one group.
func (c *Core) Snapshot() Snapshot {
	c.reg.mu.RLock()
	c.topo.mu.Lock()
	c.play.mu.Lock()
	defer c.play.mu.Unlock()
	defer c.topo.mu.Unlock()
	defer c.reg.mu.RUnlock()

	snap := Snapshot{
		Generation: c.gen.current(),
		TakenAt:    time.Now(),
		Devices:    make([]Device, 0, len(c.reg.devices)),
	}

	for _, dev := range c.reg.devices {
		snap.Devices = append(snap.Devices, dev)
	}
	sort.Slice(snap.Devices, func(i, j int) bool {
		if snap.Devices[i].Name != snap.Devices[j].Name {
			return snap.Devices[i].Name < snap.Devices[j].Name
		}
		return snap.Devices[i].ID < snap.Devices[j].ID
	})

	snap.Groups = c.buildGroupsLocked(nil)
	return snap
}

// buildGroupsLocked assembles group views for registry devices. With a
// filter it keeps only the named group IDs. Callers hold all three locks.
func (c *Core) buildGroupsLocked(only map[DeviceID]bool) []GroupView {
	byCoord := make(map[DeviceID][]DeviceID)
	for id := range c.reg.devices {
		coord := id
		if as, ok := c.topo.assign[id]; ok {
			// A coordinator the registry no longer knows degrades the
			// member to a singleton in the view.
			if _, known := c.reg.devices[as.coordinator]; known {
				coord = as.coordinator
			}
		}
		byCoord[coord] = append(byCoord[coord], id)
	}

	groups := make([]GroupView, 0, len(byCoord))
	for coord, members := range byCoord {
		if only != nil && !only[coord] {
			continue
		}
		sortMembers(members, coord)

		gv := GroupView{ID: coord, Coordinator: coord, State: TransportStopped}
		if entry, ok := c.play.transport[coord]; ok {
			gv.State = entry.state
			if entry.track != nil {
				copied := *entry.track
				gv.Track = &copied
			}
		}
		for _, m := range members {
			vol := c.play.volumes[m]
			gv.Members = append(gv.Members, MemberView{ID: m, Volume: vol.Level, Muted: vol.Muted})
		}
		groups = append(groups, gv)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

func (c *Core) groupViews(ids ...DeviceID) []GroupView {
	only := make(map[DeviceID]bool, len(ids))
	for _, id := range ids {
		only[id] = true
	}

	c.reg.mu.RLock()
	c.topo.mu.Lock()
	c.play.mu.Lock()
	defer c.play.mu.Unlock()
	defer c.topo.mu.Unlock()
	defer c.reg.mu.RUnlock()

	return c.buildGroupsLocked(only)
}

func (c *Core) allGroupViews() []GroupView {
	c.reg.mu.RLock()
	c.topo.mu.Lock()
	c.play.mu.Lock()
	defer c.play.mu.Unlock()
	defer c.topo.mu.Unlock()
	defer c.reg.mu.RUnlock()

	return c.buildGroupsLocked(nil)
}
