// ABOUTME: Wire message definitions shared by the HTTP API, websocket feed, and MQTT bridge
// ABOUTME: Defines command envelopes, results, errors, and event frames
package protocol

import (
	"errors"
	"net/http"

	"github.com/armintoepfer/solo/internal/zone"
)

// Command actions accepted by the dispatcher.
const (
	ActionPlay              = "play"
	ActionPause             = "pause"
	ActionNext              = "next"
	ActionPrevious          = "previous"
	ActionSetVolume         = "setVolume"
	ActionAdjustVolume      = "adjustVolume"
	ActionSetMute           = "setMute"
	ActionSetGroupVolume    = "setGroupVolume"
	ActionAdjustGroupVolume = "adjustGroupVolume"
	ActionJoinGroup         = "joinGroup"
	ActionLeaveGroup        = "leaveGroup"
	ActionCreateGroup       = "createGroup"
)

// Command is one control request, as posted to the HTTP API or the MQTT
// command topic. Which fields matter depends on the action; unused
// fields are ignored.
type Command struct {
	Action string `json:"action"`

	// DeviceID names the target for device- and group-scoped actions.
	// Group actions resolve it to the group it belongs to.
	DeviceID string `json:"deviceId,omitempty"`

	// GroupID optionally names a group directly (the coordinator's
	// device ID); group-scoped actions accept either form.
	GroupID string `json:"groupId,omitempty"`

	// CoordinatorID names the group to join for joinGroup and the
	// designated coordinator for createGroup.
	CoordinatorID string   `json:"coordinatorId,omitempty"`
	MemberIDs     []string `json:"memberIds,omitempty"`

	Volume *int  `json:"volume,omitempty"` // setVolume, setGroupVolume
	Delta  *int  `json:"delta,omitempty"`  // adjustVolume, adjustGroupVolume
	Muted  *bool `json:"muted,omitempty"`  // setMute

	// IfGeneration makes the command conditional: it is rejected with
	// staleGeneration when the model has moved past this generation.
	IfGeneration *uint64 `json:"ifGeneration,omitempty"`
}

// CommandResult acknowledges an accepted command.
type CommandResult struct {
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
}

// DiscoverResult reports one on-demand discovery pass.
type DiscoverResult struct {
	Status     string `json:"status"`
	Devices    int    `json:"devices"`
	Generation uint64 `json:"generation"`
}

// HealthStatus is the liveness probe payload.
type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Devices    int    `json:"devices"`
	Generation uint64 `json:"generation"`
}

// ErrorBody is the error envelope returned for failed requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable kind and a human message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error kinds, mirroring the dispatcher's error classes.
const (
	KindInvalidArgument   = "invalidArgument"
	KindNotFound          = "notFound"
	KindCommandRejected   = "commandRejected"
	KindStaleGeneration   = "staleGeneration"
	KindDeviceUnreachable = "deviceUnreachable"
	KindInternal          = "internal"
)

// KindOf classifies an error into its wire kind.
func KindOf(err error) string {
	switch {
	case errors.Is(err, zone.ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, zone.ErrNotFound):
		return KindNotFound
	case errors.Is(err, zone.ErrStaleGeneration):
		return KindStaleGeneration
	case errors.Is(err, zone.ErrCommandRejected):
		return KindCommandRejected
	case errors.Is(err, zone.ErrDeviceUnreachable):
		return KindDeviceUnreachable
	default:
		return KindInternal
	}
}

// StatusOf maps an error to its HTTP status code.
func StatusOf(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStaleGeneration:
		return http.StatusPreconditionFailed
	case KindCommandRejected:
		return http.StatusConflict
	case KindDeviceUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds the wire envelope for an error.
func NewError(err error) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Kind: KindOf(err), Message: err.Error()}}
}

// Event frame types pushed over the websocket feed.
const (
	EventHello = "hello"
	EventDelta = "delta"
)

// Event is one frame on the websocket feed. A hello carries the full
// snapshot; deltas carry incremental changes. Clients that fall behind
// re-sync from a fresh snapshot.
type Event struct {
	Type     string         `json:"type"`
	Snapshot *zone.Snapshot `json:"snapshot,omitempty"`
	Delta    *zone.Delta    `json:"delta,omitempty"`
}
