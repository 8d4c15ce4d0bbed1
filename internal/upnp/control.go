// ABOUTME: Typed UPnP control actions for transport, volume, and grouping
// ABOUTME: Thin wrappers over the SOAP client with response parsing
package upnp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/armintoepfer/solo/internal/zone"
)

// Sonos-style devices expose a single AVTransport/RenderingControl
// instance; the instance ID is always zero.
const instanceID = "0"

// Play starts playback on the device's transport.
func (c *Client) Play(ctx context.Context, addr string) error {
	_, err := c.call(ctx, addr, AVTransport, "Play", []arg{
		{"InstanceID", instanceID},
		{"Speed", "1"},
	})
	return err
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, addr string) error {
	_, err := c.call(ctx, addr, AVTransport, "Pause", []arg{{"InstanceID", instanceID}})
	return err
}

// Next skips to the next track in the queue.
func (c *Client) Next(ctx context.Context, addr string) error {
	_, err := c.call(ctx, addr, AVTransport, "Next", []arg{{"InstanceID", instanceID}})
	return err
}

// Previous skips back to the previous track.
func (c *Client) Previous(ctx context.Context, addr string) error {
	_, err := c.call(ctx, addr, AVTransport, "Previous", []arg{{"InstanceID", instanceID}})
	return err
}

// JoinGroup points the device's transport at a coordinator, which makes
// it a member of that coordinator's group.
func (c *Client) JoinGroup(ctx context.Context, addr string, coordinator zone.DeviceID) error {
	_, err := c.call(ctx, addr, AVTransport, "SetAVTransportURI", []arg{
		{"InstanceID", instanceID},
		{"CurrentURI", "x-rincon:" + string(coordinator)},
		{"CurrentURIMetaData", ""},
	})
	return err
}

// LeaveGroup detaches the device from its group; it becomes the
// coordinator of a fresh standalone group.
func (c *Client) LeaveGroup(ctx context.Context, addr string) error {
	_, err := c.call(ctx, addr, AVTransport, "BecomeCoordinatorOfStandaloneGroup", []arg{{"InstanceID", instanceID}})
	return err
}

// GetTransportInfo reports the device's current transport state.
func (c *Client) GetTransportInfo(ctx context.Context, addr string) (zone.TransportState, error) {
	data, err := c.call(ctx, addr, AVTransport, "GetTransportInfo", []arg{{"InstanceID", instanceID}})
	if err != nil {
		return "", err
	}
	raw, ok := xmlText(data, "CurrentTransportState")
	if !ok {
		return "", fmt.Errorf("%w: GetTransportInfo on %s: no transport state in response", zone.ErrCommandRejected, addr)
	}
	return ParseTransportState(raw), nil
}

// PositionInfo is the raw track position report of a coordinator.
type PositionInfo struct {
	TrackMetaData string
	TrackDuration string
	RelTime       string
}

// GetPositionInfo reports the current track metadata and position.
func (c *Client) GetPositionInfo(ctx context.Context, addr string) (PositionInfo, error) {
	data, err := c.call(ctx, addr, AVTransport, "GetPositionInfo", []arg{{"InstanceID", instanceID}})
	if err != nil {
		return PositionInfo{}, err
	}
	var info PositionInfo
	info.TrackMetaData, _ = xmlText(data, "TrackMetaData")
	info.TrackDuration, _ = xmlText(data, "TrackDuration")
	info.RelTime, _ = xmlText(data, "RelTime")
	return info, nil
}

// GetVolume reads the device's master volume.
func (c *Client) GetVolume(ctx context.Context, addr string) (int, error) {
	data, err := c.call(ctx, addr, RenderingControl, "GetVolume", []arg{
		{"InstanceID", instanceID},
		{"Channel", "Master"},
	})
	if err != nil {
		return 0, err
	}
	raw, ok := xmlText(data, "CurrentVolume")
	if !ok {
		return 0, fmt.Errorf("%w: GetVolume on %s: no volume in response", zone.ErrCommandRejected, addr)
	}
	level, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: GetVolume on %s: bad volume %q", zone.ErrCommandRejected, addr, raw)
	}
	return level, nil
}

// SetVolume sets the device's master volume. Range checks happen at the
// dispatcher before any network traffic; the device would clamp anyway.
func (c *Client) SetVolume(ctx context.Context, addr string, level int) error {
	_, err := c.call(ctx, addr, RenderingControl, "SetVolume", []arg{
		{"InstanceID", instanceID},
		{"Channel", "Master"},
		{"DesiredVolume", strconv.Itoa(level)},
	})
	return err
}

// GetMute reads the device's master mute flag.
func (c *Client) GetMute(ctx context.Context, addr string) (bool, error) {
	data, err := c.call(ctx, addr, RenderingControl, "GetMute", []arg{
		{"InstanceID", instanceID},
		{"Channel", "Master"},
	})
	if err != nil {
		return false, err
	}
	raw, ok := xmlText(data, "CurrentMute")
	if !ok {
		return false, fmt.Errorf("%w: GetMute on %s: no mute state in response", zone.ErrCommandRejected, addr)
	}
	return strings.TrimSpace(raw) == "1", nil
}

// SetMute sets the device's master mute flag.
func (c *Client) SetMute(ctx context.Context, addr string, muted bool) error {
	desired := "0"
	if muted {
		desired = "1"
	}
	_, err := c.call(ctx, addr, RenderingControl, "SetMute", []arg{
		{"InstanceID", instanceID},
		{"Channel", "Master"},
		{"DesiredMute", desired},
	})
	return err
}

// GetZoneGroupState fetches and parses the device's view of the whole
// group topology. Any member can answer for the fleet.
func (c *Client) GetZoneGroupState(ctx context.Context, addr string) ([]ZoneGroup, error) {
	data, err := c.call(ctx, addr, ZoneGroupTopology, "GetZoneGroupState", nil)
	if err != nil {
		return nil, err
	}
	// The group state is an XML document escaped inside the response.
	inner, ok := xmlText(data, "ZoneGroupState")
	if !ok || strings.TrimSpace(inner) == "" {
		return nil, fmt.Errorf("%w: GetZoneGroupState on %s: empty state", zone.ErrCommandRejected, addr)
	}
	groups, err := ParseZoneGroupState(inner)
	if err != nil {
		return nil, fmt.Errorf("%w: GetZoneGroupState on %s: %v", zone.ErrCommandRejected, addr, err)
	}
	return groups, nil
}

// ParseTransportState maps a device transport state to the model's
// vocabulary. TRANSITIONING counts as playing since audio is about to
// come out of the speakers.
func ParseTransportState(raw string) zone.TransportState {
	switch strings.TrimSpace(raw) {
	case "PLAYING", "TRANSITIONING":
		return zone.TransportPlaying
	case "PAUSED_PLAYBACK":
		return zone.TransportPaused
	default:
		return zone.TransportStopped
	}
}
