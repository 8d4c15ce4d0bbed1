// ABOUTME: Core data model for zone players, groups, and playback state
// ABOUTME: Defines the types shared by discovery, eventing, dispatch, and the API
package zone

import "time"

// DeviceID is the network-stable identity of a zone player, the UPnP UDN
// without the uuid: prefix (RINCON_... on real hardware).
type DeviceID string

// TransportState describes what a group is currently doing.
type TransportState string

const (
	TransportPlaying TransportState = "playing"
	TransportPaused  TransportState = "paused"
	TransportStopped TransportState = "stopped"
)

// Device is one zone player known to the registry.
type Device struct {
	ID       DeviceID `json:"id"`
	Name     string   `json:"name"`
	Model    string   `json:"model,omitempty"`
	Address  string   `json:"address"`  // host:port of the control endpoint
	Location string   `json:"location"` // device description URL

	CanGroup         bool `json:"canGroup"`
	CanControlVolume bool `json:"canControlVolume"`

	// LastSeen tracks liveness for expiry. Refreshing it alone is not an
	// observable mutation, so it stays out of the wire format.
	LastSeen time.Time `json:"-"`
}

// Group is one cell of the topology partition. The group ID is the
// coordinator's device ID; the coordinator is always a member.
type Group struct {
	ID          DeviceID   `json:"id"`
	Coordinator DeviceID   `json:"coordinator"`
	Members     []DeviceID `json:"members"`
}

// Track holds the metadata of the current track as reported by the
// coordinator. Durations are whole seconds.
type Track struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Position   int    `json:"position,omitempty"`
}

// VolumeState is the rendering state of a single device.
type VolumeState struct {
	Level int  `json:"level"`
	Muted bool `json:"muted"`
}

// MemberView is a group member with its rendering state.
type MemberView struct {
	ID     DeviceID `json:"id"`
	Volume int      `json:"volume"`
	Muted  bool     `json:"muted"`
}

// GroupView is a group with its playback state, as exposed in snapshots
// and deltas. Members are ordered coordinator first, then by ID.
type GroupView struct {
	ID          DeviceID       `json:"id"`
	Coordinator DeviceID       `json:"coordinator"`
	Members     []MemberView   `json:"members"`
	State       TransportState `json:"state"`
	Track       *Track         `json:"track,omitempty"`
}

// Snapshot is an immutable, internally consistent copy of the whole model.
// Devices referenced by groups always exist in Devices, and every device
// appears in exactly one group.
type Snapshot struct {
	Generation uint64      `json:"generation"`
	TakenAt    time.Time   `json:"takenAt"`
	Devices    []Device    `json:"devices"`
	Groups     []GroupView `json:"groups"`
}

// DeltaKind tags what part of the model a delta describes.
type DeltaKind string

const (
	DeltaDevice   DeltaKind = "device"
	DeltaTopology DeltaKind = "topology"
	DeltaPlayback DeltaKind = "playback"
	DeltaRemoved  DeltaKind = "removed"
)

// Delta is a generation-tagged change notification. It carries the entities
// that changed; consumers that miss deltas re-fetch the snapshot.
type Delta struct {
	Generation uint64      `json:"generation"`
	Kind       DeltaKind   `json:"kind"`
	Devices    []Device    `json:"devices,omitempty"`
	Groups     []GroupView `json:"groups,omitempty"`
	Removed    []DeviceID  `json:"removed,omitempty"`
}
