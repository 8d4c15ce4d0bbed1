// ABOUTME: Wire types exchanged with the solo daemon
// ABOUTME: Mirrors the daemon's JSON surface so importers need no internal packages
package solo

import "time"

// Transport states reported for a group.
const (
	TransportPlaying = "playing"
	TransportPaused  = "paused"
	TransportStopped = "stopped"
)

// Command actions accepted by the daemon.
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

// Error kinds returned by failed API calls.
const (
	KindInvalidArgument   = "invalidArgument"
	KindNotFound          = "notFound"
	KindCommandRejected   = "commandRejected"
	KindStaleGeneration   = "staleGeneration"
	KindDeviceUnreachable = "deviceUnreachable"
	KindInternal          = "internal"
)

// Device is one zone player known to the daemon.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model,omitempty"`
	Address  string `json:"address"`
	Location string `json:"location"`

	CanGroup         bool `json:"canGroup"`
	CanControlVolume bool `json:"canControlVolume"`
}

// Track is the current track metadata of a group. Durations are whole
// seconds.
type Track struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Position   int    `json:"position,omitempty"`
}

// Member is a group member with its rendering state.
type Member struct {
	ID     string `json:"id"`
	Volume int    `json:"volume"`
	Muted  bool   `json:"muted"`
}

// Group is one playback group. The group ID is the coordinator's device
// ID; members are ordered coordinator first.
type Group struct {
	ID          string   `json:"id"`
	Coordinator string   `json:"coordinator"`
	Members     []Member `json:"members"`
	State       string   `json:"state"`
	Track       *Track   `json:"track,omitempty"`
}

// Snapshot is a consistent copy of the daemon's whole model.
type Snapshot struct {
	Generation uint64    `json:"generation"`
	TakenAt    time.Time `json:"takenAt"`
	Devices    []Device  `json:"devices"`
	Groups     []Group   `json:"groups"`
}

// Delta kinds tagging what part of the model changed.
const (
	DeltaDevice   = "device"
	DeltaTopology = "topology"
	DeltaPlayback = "playback"
	DeltaRemoved  = "removed"
)

// Delta is one generation-tagged change. Consumers that miss deltas
// re-fetch a snapshot.
type Delta struct {
	Generation uint64   `json:"generation"`
	Kind       string   `json:"kind"`
	Devices    []Device `json:"devices,omitempty"`
	Groups     []Group  `json:"groups,omitempty"`
	Removed    []string `json:"removed,omitempty"`
}

// Command is one control request. Which fields matter depends on the
// action; the convenience methods on Client fill them in.
type Command struct {
	Action        string   `json:"action"`
	DeviceID      string   `json:"deviceId,omitempty"`
	GroupID       string   `json:"groupId,omitempty"`
	CoordinatorID string   `json:"coordinatorId,omitempty"`
	MemberIDs     []string `json:"memberIds,omitempty"`

	Volume *int  `json:"volume,omitempty"`
	Delta  *int  `json:"delta,omitempty"`
	Muted  *bool `json:"muted,omitempty"`

	// IfGeneration makes the command conditional: the daemon rejects it
	// with staleGeneration when the model has moved past this generation.
	IfGeneration *uint64 `json:"ifGeneration,omitempty"`
}

// CommandResult acknowledges an accepted command.
type CommandResult struct {
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
}

// DiscoverResult reports a triggered discovery pass.
type DiscoverResult struct {
	Status     string `json:"status"`
	Devices    int    `json:"devices"`
	Generation uint64 `json:"generation"`
}

// HealthStatus is the daemon's liveness payload.
type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Devices    int    `json:"devices"`
	Generation uint64 `json:"generation"`
}

// Event frame types on the websocket feed.
const (
	EventHello = "hello"
	EventDelta = "delta"
)

// Event is one frame on the event feed. A hello carries the full
// snapshot; deltas carry incremental changes.
type Event struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Delta    *Delta    `json:"delta,omitempty"`
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}
