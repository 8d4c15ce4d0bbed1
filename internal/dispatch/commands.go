// ABOUTME: Typed control operations behind the dispatcher
// ABOUTME: Transport targets coordinators, volume targets devices, grouping is optimistic
package dispatch

import (
	"context"
	"fmt"

	"github.com/armintoepfer/solo/internal/zone"
)

// Play starts playback for the group containing target.
func (d *Dispatcher) Play(ctx context.Context, target zone.DeviceID) error {
	coord, err := d.coordinatorFor(target)
	if err != nil {
		return err
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.Play(opCtx, coord.Address); err != nil {
		return fmt.Errorf("play %s: %w", coord.ID, err)
	}
	return nil
}

// Pause pauses playback for the group containing target.
func (d *Dispatcher) Pause(ctx context.Context, target zone.DeviceID) error {
	coord, err := d.coordinatorFor(target)
	if err != nil {
		return err
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.Pause(opCtx, coord.Address); err != nil {
		return fmt.Errorf("pause %s: %w", coord.ID, err)
	}
	return nil
}

// Next skips to the next track for the group containing target.
func (d *Dispatcher) Next(ctx context.Context, target zone.DeviceID) error {
	coord, err := d.coordinatorFor(target)
	if err != nil {
		return err
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.Next(opCtx, coord.Address); err != nil {
		return fmt.Errorf("next %s: %w", coord.ID, err)
	}
	return nil
}

// Previous skips to the previous track for the group containing target.
func (d *Dispatcher) Previous(ctx context.Context, target zone.DeviceID) error {
	coord, err := d.coordinatorFor(target)
	if err != nil {
		return err
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.Previous(opCtx, coord.Address); err != nil {
		return fmt.Errorf("previous %s: %w", coord.ID, err)
	}
	return nil
}

// SetVolume sets one device's volume, regardless of its group role.
func (d *Dispatcher) SetVolume(ctx context.Context, device zone.DeviceID, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: volume %d outside 0-100", zone.ErrInvalidArgument, level)
	}
	dev, err := d.deviceFor(device)
	if err != nil {
		return err
	}
	return d.setVolume(ctx, dev, level)
}

// AdjustVolume shifts one device's volume by delta, clamped into 0-100.
// The cached level anchors the adjustment; a cold cache falls back to a
// live read.
func (d *Dispatcher) AdjustVolume(ctx context.Context, device zone.DeviceID, delta int) error {
	dev, err := d.deviceFor(device)
	if err != nil {
		return err
	}
	return d.adjustVolume(ctx, dev, delta)
}

// SetMute mutes or unmutes one device.
func (d *Dispatcher) SetMute(ctx context.Context, device zone.DeviceID, muted bool) error {
	dev, err := d.deviceFor(device)
	if err != nil {
		return err
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.SetMute(opCtx, dev.Address, muted); err != nil {
		return fmt.Errorf("set mute %s: %w", dev.ID, err)
	}
	d.confirmVolume(dev.ID, func(vs *zone.VolumeState) { vs.Muted = muted })
	return nil
}

// SetGroupVolume sets the same level on every member of the group
// containing target. Member failures are joined, not masked.
func (d *Dispatcher) SetGroupVolume(ctx context.Context, target zone.DeviceID, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: volume %d outside 0-100", zone.ErrInvalidArgument, level)
	}
	if _, err := d.deviceFor(target); err != nil {
		return err
	}
	return fanOut(d.core.GroupDevices(target), func(dev zone.Device) error {
		return d.setVolume(ctx, dev, level)
	})
}

// AdjustGroupVolume shifts every member of the group containing target
// by delta, each clamped from its own cached level.
func (d *Dispatcher) AdjustGroupVolume(ctx context.Context, target zone.DeviceID, delta int) error {
	if _, err := d.deviceFor(target); err != nil {
		return err
	}
	return fanOut(d.core.GroupDevices(target), func(dev zone.Device) error {
		return d.adjustVolume(ctx, dev, delta)
	})
}

// JoinGroup moves device into the group containing dest. The topology
// updates optimistically; a rejected or unreachable device rolls it back.
func (d *Dispatcher) JoinGroup(ctx context.Context, device, dest zone.DeviceID) error {
	dev, err := d.deviceFor(device)
	if err != nil {
		return err
	}
	coord, err := d.coordinatorFor(dest)
	if err != nil {
		return err
	}
	return d.join(ctx, dev, coord)
}

// LeaveGroup makes device a standalone group. Already-standalone devices
// are a no-op success.
func (d *Dispatcher) LeaveGroup(ctx context.Context, device zone.DeviceID) error {
	dev, err := d.deviceFor(device)
	if err != nil {
		return err
	}
	return d.leave(ctx, dev)
}

// CreateGroup assembles a group: every member joins coordinator. All IDs
// resolve before any device call so a typo leaves the fleet untouched. A
// coordinator currently in a foreign group leaves it first.
func (d *Dispatcher) CreateGroup(ctx context.Context, coordinator zone.DeviceID, members []zone.DeviceID) error {
	coord, err := d.deviceFor(coordinator)
	if err != nil {
		return err
	}
	devs := make([]zone.Device, 0, len(members))
	for _, m := range members {
		if m == coord.ID {
			continue
		}
		dev, err := d.deviceFor(m)
		if err != nil {
			return err
		}
		devs = append(devs, dev)
	}

	if g, ok := d.core.GroupOf(coord.ID); ok && g.Coordinator != coord.ID {
		if err := d.leave(ctx, coord); err != nil {
			return fmt.Errorf("freeing coordinator: %w", err)
		}
	}

	return fanOut(devs, func(dev zone.Device) error {
		return d.join(ctx, dev, coord)
	})
}

// join runs one optimistic member move: pend the assignment, send the
// command, roll back if the device declines. Joining the current group
// changes nothing and sends nothing.
func (d *Dispatcher) join(ctx context.Context, dev, coord zone.Device) error {
	ticket, changed := d.core.BeginJoin(dev.ID, coord.ID)
	if !changed {
		return nil
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.JoinGroup(opCtx, dev.Address, coord.ID); err != nil {
		d.core.Rollback(ticket)
		return fmt.Errorf("join %s to %s: %w", dev.ID, coord.ID, err)
	}
	return nil
}

func (d *Dispatcher) leave(ctx context.Context, dev zone.Device) error {
	ticket, changed := d.core.BeginLeave(dev.ID)
	if !changed {
		return nil
	}
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.LeaveGroup(opCtx, dev.Address); err != nil {
		d.core.Rollback(ticket)
		return fmt.Errorf("leave %s: %w", dev.ID, err)
	}
	return nil
}

func (d *Dispatcher) setVolume(ctx context.Context, dev zone.Device, level int) error {
	opCtx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.client.SetVolume(opCtx, dev.Address, level); err != nil {
		return fmt.Errorf("set volume %s: %w", dev.ID, err)
	}
	d.confirmVolume(dev.ID, func(vs *zone.VolumeState) { vs.Level = level })
	return nil
}

func (d *Dispatcher) adjustVolume(ctx context.Context, dev zone.Device, delta int) error {
	level, ok := d.cachedLevel(dev.ID)
	if !ok {
		opCtx, cancel := d.opCtx(ctx)
		cur, err := d.client.GetVolume(opCtx, dev.Address)
		cancel()
		if err != nil {
			return fmt.Errorf("read volume %s: %w", dev.ID, err)
		}
		level = cur
	}
	return d.setVolume(ctx, dev, clamp(level+delta, 0, 100))
}

func (d *Dispatcher) cachedLevel(id zone.DeviceID) (int, bool) {
	vs, ok := d.core.Volume(id)
	if !ok {
		return 0, false
	}
	return vs.Level, true
}

// confirmVolume folds an acknowledged change into the cached rendering
// state. A cold cache stays cold; ingestion or priming fills it.
func (d *Dispatcher) confirmVolume(id zone.DeviceID, mutate func(*zone.VolumeState)) {
	vs, ok := d.core.Volume(id)
	if !ok {
		return
	}
	mutate(&vs)
	d.core.ApplyVolume(id, vs)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
