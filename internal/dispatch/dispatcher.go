// ABOUTME: Command dispatcher translating control requests into device calls
// ABOUTME: Resolves targets, applies optimistic updates, and classifies failures
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/protocol"
	"github.com/armintoepfer/solo/internal/upnp"
	"github.com/armintoepfer/solo/internal/zone"
)

// Dispatcher executes control commands. Every network call runs under
// its own deadline with no core lock held; dispatch returns on device
// acknowledgment, and definitive state arrives through event ingestion.
type Dispatcher struct {
	core    *zone.Core
	client  *upnp.Client
	timeout time.Duration
}

// New creates a dispatcher. timeout bounds each device call.
func New(core *zone.Core, client *upnp.Client, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{core: core, client: client, timeout: timeout}
}

// Do executes one wire command. This is the shared entry point for the
// HTTP API and the MQTT bridge.
func (d *Dispatcher) Do(ctx context.Context, cmd protocol.Command) (protocol.CommandResult, error) {
	if cmd.IfGeneration != nil {
		if gen := d.core.Generation(); gen != *cmd.IfGeneration {
			return protocol.CommandResult{}, fmt.Errorf("%w: model at generation %d, command conditioned on %d",
				zone.ErrStaleGeneration, gen, *cmd.IfGeneration)
		}
	}

	// Group-scoped actions accept a device or a group as target.
	target := zone.DeviceID(cmd.DeviceID)
	if target == "" {
		target = zone.DeviceID(cmd.GroupID)
	}
	device := zone.DeviceID(cmd.DeviceID)

	cid := uuid.NewString()[:8]
	logger.WithFields(logger.Fields{
		"cid":    cid,
		"action": cmd.Action,
		"device": cmd.DeviceID,
	}).Debug("dispatching command")

	var err error
	switch cmd.Action {
	case protocol.ActionPlay:
		err = d.Play(ctx, target)
	case protocol.ActionPause:
		err = d.Pause(ctx, target)
	case protocol.ActionNext:
		err = d.Next(ctx, target)
	case protocol.ActionPrevious:
		err = d.Previous(ctx, target)
	case protocol.ActionSetVolume:
		if cmd.Volume == nil {
			err = fmt.Errorf("%w: setVolume requires volume", zone.ErrInvalidArgument)
		} else {
			err = d.SetVolume(ctx, device, *cmd.Volume)
		}
	case protocol.ActionAdjustVolume:
		if cmd.Delta == nil {
			err = fmt.Errorf("%w: adjustVolume requires delta", zone.ErrInvalidArgument)
		} else {
			err = d.AdjustVolume(ctx, device, *cmd.Delta)
		}
	case protocol.ActionSetMute:
		if cmd.Muted == nil {
			err = fmt.Errorf("%w: setMute requires muted", zone.ErrInvalidArgument)
		} else {
			err = d.SetMute(ctx, device, *cmd.Muted)
		}
	case protocol.ActionSetGroupVolume:
		if cmd.Volume == nil {
			err = fmt.Errorf("%w: setGroupVolume requires volume", zone.ErrInvalidArgument)
		} else {
			err = d.SetGroupVolume(ctx, target, *cmd.Volume)
		}
	case protocol.ActionAdjustGroupVolume:
		if cmd.Delta == nil {
			err = fmt.Errorf("%w: adjustGroupVolume requires delta", zone.ErrInvalidArgument)
		} else {
			err = d.AdjustGroupVolume(ctx, target, *cmd.Delta)
		}
	case protocol.ActionJoinGroup:
		dest := zone.DeviceID(cmd.CoordinatorID)
		if dest == "" {
			dest = zone.DeviceID(cmd.GroupID)
		}
		err = d.JoinGroup(ctx, device, dest)
	case protocol.ActionLeaveGroup:
		err = d.LeaveGroup(ctx, device)
	case protocol.ActionCreateGroup:
		members := make([]zone.DeviceID, 0, len(cmd.MemberIDs))
		for _, m := range cmd.MemberIDs {
			members = append(members, zone.DeviceID(m))
		}
		err = d.CreateGroup(ctx, zone.DeviceID(cmd.CoordinatorID), members)
	default:
		err = fmt.Errorf("%w: unknown action %q", zone.ErrInvalidArgument, cmd.Action)
	}

	if err != nil {
		logger.WithFields(logger.Fields{"cid": cid, "action": cmd.Action}).Debugf("command failed: %v", err)
		return protocol.CommandResult{}, err
	}
	return protocol.CommandResult{Status: "ok", Generation: d.core.Generation()}, nil
}

// deviceFor resolves a registry entry or reports why it cannot.
func (d *Dispatcher) deviceFor(id zone.DeviceID) (zone.Device, error) {
	if id == "" {
		return zone.Device{}, fmt.Errorf("%w: device id required", zone.ErrInvalidArgument)
	}
	dev, ok := d.core.Device(id)
	if !ok {
		return zone.Device{}, fmt.Errorf("%w: no device %s", zone.ErrNotFound, id)
	}
	return dev, nil
}

// coordinatorFor resolves the device coordinating the group that
// contains target. A coordinator the registry lost degrades to the
// target itself, matching how snapshots render such groups.
func (d *Dispatcher) coordinatorFor(target zone.DeviceID) (zone.Device, error) {
	dev, err := d.deviceFor(target)
	if err != nil {
		return zone.Device{}, err
	}
	if coord, ok := d.core.CoordinatorDevice(target); ok {
		return coord, nil
	}
	return dev, nil
}

func (d *Dispatcher) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// fanOut runs op against every device in parallel and joins the
// failures, so one slow or dead member cannot hide the others' results.
func fanOut(devs []zone.Device, op func(zone.Device) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, dev := range devs {
		wg.Add(1)
		go func(dev zone.Device) {
			defer wg.Done()
			if err := op(dev); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(dev)
	}
	wg.Wait()
	return errors.Join(errs...)
}
