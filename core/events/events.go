package events

import "time"

// Event is implemented by every bus event.
type Event interface {
	EventName() string
}

// StateChanged is published every time an entity state is written.
type StateChanged struct {
	EntityID   string
	UniqueID   string
	DeviceMAC  string
	OldState   string
	NewState   string
	Attributes map[string]any
	// Changed is false when the write kept the rendered state.
	Changed bool
	Time    time.Time
}

func (StateChanged) EventName() string { return "state_changed" }

// AvailabilityChanged is published when a device goes online or offline.
type AvailabilityChanged struct {
	DeviceMAC string
	Online    bool
	// Reason is "lwt" or "connection_lost".
	Reason string
	Time   time.Time
}

func (AvailabilityChanged) EventName() string { return "availability_changed" }

// Discovery actions.
const (
	ActionAdded     = "added"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
	ActionRemoved   = "removed"
	ActionRenamed   = "renamed"
)

// DiscoveryChanged is published for every processed discovery message and
// entity rename. EntityID is empty for device level changes.
type DiscoveryChanged struct {
	DeviceMAC string
	Kind      string
	Action    string
	EntityID  string
	// PreviousEntityID is the entity id replaced by a rename.
	PreviousEntityID string
	Time             time.Time
}

func (DiscoveryChanged) EventName() string { return "discovery_changed" }
