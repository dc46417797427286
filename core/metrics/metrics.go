package metrics

import "time"

// StateEvent is one entity state write.
type StateEvent struct {
	EntityID    string
	DeviceMAC   string
	State       string
	Unit        string
	DeviceClass string
	Changed     bool
	Time        time.Time
}

// MetricsSink records entity state writes.
type MetricsSink interface {
	RecordState(ev StateEvent) error
}

// AvailabilityEvent is a device going online or offline.
type AvailabilityEvent struct {
	DeviceMAC string
	Online    bool
	Reason    string
	Time      time.Time
}

// AvailabilityRecorder records device availability.
type AvailabilityRecorder interface {
	RecordAvailability(ev AvailabilityEvent) error
}

// DiscoveryEvent is one processed discovery message or entity rename.
type DiscoveryEvent struct {
	DeviceMAC        string
	Kind             string
	Action           string
	EntityID         string
	PreviousEntityID string
	Time             time.Time
}

// DiscoveryRecorder records discovery activity.
type DiscoveryRecorder interface {
	RecordDiscovery(ev DiscoveryEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordState(StateEvent) error               { return nil }
func (NopSink) RecordAvailability(AvailabilityEvent) error { return nil }
func (NopSink) RecordDiscovery(DiscoveryEvent) error       { return nil }
