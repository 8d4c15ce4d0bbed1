// ABOUTME: Group topology model reconciling per-device coordinator claims
// ABOUTME: Maintains the one-group-per-device partition with optimistic updates
package zone

import (
	"sort"
	"sync"
)

// assignment records which coordinator a device currently belongs to.
// arrival orders writes; pending marks optimistic entries awaiting
// confirmation from the device fleet.
type assignment struct {
	coordinator DeviceID
	arrival     uint64
	pending     bool
}

// Topology reconciles group claims into a partition: every known device
// belongs to exactly one group, identified by its coordinator. Later
// writes win; authoritative claims always override pending ones.
type Topology struct {
	mu      sync.Mutex
	gen     *generation
	arrival uint64
	assign  map[DeviceID]assignment
}

// JoinTicket lets the dispatcher undo one optimistic move if the device
// rejects the command. A zero ticket rolls back nothing.
type JoinTicket struct {
	device      DeviceID
	prev        DeviceID
	prevPending bool
	arrival     uint64
}

func newTopology(gen *generation) *Topology {
	return &Topology{
		gen:    gen,
		assign: make(map[DeviceID]assignment),
	}
}

// Ensure gives a device a singleton assignment if it has none yet.
func (t *Topology) Ensure(id DeviceID) bool {
	if id == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.assign[id]; ok {
		return false
	}
	t.arrival++
	t.assign[id] = assignment{coordinator: id, arrival: t.arrival}
	t.gen.bump()
	return true
}

// ApplyClaim applies one authoritative group claim: the named members now
// belong to coordinator, and devices previously in that group but no
// longer named degrade to singletons. Identical repeated claims change
// nothing and do not advance the generation.
func (t *Topology) ApplyClaim(coordinator DeviceID, members []DeviceID) bool {
	if coordinator == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	claimed := make(map[DeviceID]bool, len(members)+1)
	claimed[coordinator] = true
	for _, m := range members {
		if m != "" {
			claimed[m] = true
		}
	}

	changed := false

	// Devices that left this group since the last claim become singletons.
	for id, as := range t.assign {
		if as.coordinator == coordinator && !claimed[id] {
			t.arrival++
			t.assign[id] = assignment{coordinator: id, arrival: t.arrival}
			changed = true
		}
	}

	for m := range claimed {
		cur, ok := t.assign[m]
		if ok && cur.coordinator == coordinator {
			if cur.pending {
				// Confirmation of an optimistic move: no observable change,
				// but the fresh arrival invalidates any rollback ticket.
				t.arrival++
				t.assign[m] = assignment{coordinator: coordinator, arrival: t.arrival}
			}
			continue
		}
		t.arrival++
		t.assign[m] = assignment{coordinator: coordinator, arrival: t.arrival}
		changed = true
	}

	if t.repairLocked() {
		changed = true
	}
	if changed {
		t.gen.bump()
	}
	return changed
}

// BeginJoin optimistically moves device into the group coordinated by
// target (or by target's coordinator if target is itself a member).
// The returned ticket undoes the move if the command is rejected.
func (t *Topology) BeginJoin(device, target DeviceID) (JoinTicket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.assign[device]
	if !ok {
		cur = assignment{coordinator: device}
	}

	dest := target
	if as, ok := t.assign[target]; ok {
		dest = as.coordinator
	}

	if cur.coordinator == dest && !cur.pending {
		return JoinTicket{}, false
	}

	t.arrival++
	ticket := JoinTicket{
		device:      device,
		prev:        cur.coordinator,
		prevPending: cur.pending,
		arrival:     t.arrival,
	}
	t.assign[device] = assignment{coordinator: dest, arrival: t.arrival, pending: true}
	t.repairLocked()
	t.gen.bump()
	return ticket, true
}

// BeginLeave optimistically makes device a standalone group.
func (t *Topology) BeginLeave(device DeviceID) (JoinTicket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.assign[device]
	if !ok || (cur.coordinator == device && !cur.pending && t.aloneLocked(device)) {
		return JoinTicket{}, false
	}

	t.arrival++
	ticket := JoinTicket{
		device:      device,
		prev:        cur.coordinator,
		prevPending: cur.pending,
		arrival:     t.arrival,
	}
	t.assign[device] = assignment{coordinator: device, arrival: t.arrival, pending: true}
	t.repairLocked()
	t.gen.bump()
	return ticket, true
}

// Rollback restores the assignment recorded in the ticket, but only if
// the optimistic entry is still in place. A newer authoritative update
// makes the rollback a no-op.
func (t *Topology) Rollback(ticket JoinTicket) bool {
	if ticket.device == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.assign[ticket.device]
	if !ok || !cur.pending || cur.arrival != ticket.arrival {
		return false
	}

	t.arrival++
	t.assign[ticket.device] = assignment{
		coordinator: ticket.prev,
		arrival:     t.arrival,
		pending:     ticket.prevPending,
	}
	t.repairLocked()
	t.gen.bump()
	return true
}

// Remove drops devices from the topology. Members of a removed
// coordinator degrade to singletons.
func (t *Topology) Remove(ids ...DeviceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for _, id := range ids {
		if _, ok := t.assign[id]; ok {
			delete(t.assign, id)
			changed = true
		}
	}
	if changed {
		t.repairLocked()
		t.gen.bump()
	}
	return changed
}

// CoordinatorOf resolves the coordinator of the group containing id.
func (t *Topology) CoordinatorOf(id DeviceID) (DeviceID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	as, ok := t.assign[id]
	if !ok {
		return "", false
	}
	return as.coordinator, true
}

// GroupOf returns the group containing id.
func (t *Topology) GroupOf(id DeviceID) (Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	as, ok := t.assign[id]
	if !ok {
		return Group{}, false
	}
	return t.groupLocked(as.coordinator), true
}

// Groups returns the current partition in stable order.
func (t *Topology) Groups() []Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.groupsLocked()
}

// IsPending reports whether a device's assignment is optimistic.
func (t *Topology) IsPending(id DeviceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	as, ok := t.assign[id]
	return ok && as.pending
}

// repairLocked enforces that every referenced coordinator coordinates
// itself: members pointing at a device that meanwhile moved elsewhere
// degrade to singletons. One pass suffices because a degraded device
// always self-coordinates afterwards.
func (t *Topology) repairLocked() bool {
	changed := false
	for id, as := range t.assign {
		if as.coordinator == id {
			continue
		}
		coord, ok := t.assign[as.coordinator]
		if !ok || coord.coordinator != as.coordinator {
			t.arrival++
			t.assign[id] = assignment{coordinator: id, arrival: t.arrival}
			changed = true
		}
	}
	return changed
}

func (t *Topology) aloneLocked(id DeviceID) bool {
	for other, as := range t.assign {
		if other != id && as.coordinator == id {
			return false
		}
	}
	return true
}

func (t *Topology) groupLocked(coordinator DeviceID) Group {
	g := Group{ID: coordinator, Coordinator: coordinator}
	for id, as := range t.assign {
		if as.coordinator == coordinator {
			g.Members = append(g.Members, id)
		}
	}
	sortMembers(g.Members, coordinator)
	return g
}

func (t *Topology) groupsLocked() []Group {
	byCoord := make(map[DeviceID][]DeviceID)
	for id, as := range t.assign {
		byCoord[as.coordinator] = append(byCoord[as.coordinator], id)
	}

	groups := make([]Group, 0, len(byCoord))
	for coord, members := range byCoord {
		sortMembers(members, coord)
		groups = append(groups, Group{ID: coord, Coordinator: coord, Members: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// sortMembers orders a member list coordinator first, then by ID.
func sortMembers(members []DeviceID, coordinator DeviceID) {
	sort.Slice(members, func(i, j int) bool {
		if members[i] == coordinator {
			return true
		}
		if members[j] == coordinator {
			return false
		}
		return members[i] < members[j]
	})
}
