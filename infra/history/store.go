package history

import (
	"context"
	"time"
)

// Record is one rendered state change.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	UniqueID   string         `json:"unique_id"`
	EntityID   string         `json:"entity_id"`
	DeviceMAC  string         `json:"device_mac"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Query selects records. Zero fields do not filter.
type Query struct {
	UniqueID string
	EntityID string
	Start    time.Time
	End      time.Time
}

func (q Query) match(r Record) bool {
	if q.UniqueID != "" && r.UniqueID != q.UniqueID {
		return false
	}
	if q.EntityID != "" && r.EntityID != q.EntityID {
		return false
	}
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	return true
}

// Store persists records and supports querying. Query results are ordered
// by timestamp.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
