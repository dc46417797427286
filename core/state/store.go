package state

import (
	"sort"
	"sync"
	"time"
)

// Rendered states that are not readings.
const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// Entry is the state of one sensor entity, keyed by its unique id so that
// entity renames do not touch it.
type Entry struct {
	UniqueID    string    `json:"unique_id"`
	DeviceMAC   string    `json:"device_mac"`
	Value       string    `json:"value,omitempty"`
	HasValue    bool      `json:"has_value"`
	Available   bool      `json:"available"`
	LastUpdated time.Time `json:"last_updated"`
	LastChanged time.Time `json:"last_changed"`
}

// State renders the entry the way observers see it.
func (e Entry) State() string {
	switch {
	case !e.Available:
		return StateUnavailable
	case !e.HasValue:
		return StateUnknown
	default:
		return e.Value
	}
}

// Transition is the outcome of one write.
type Transition struct {
	Entry    Entry
	OldState string
	NewState string
	Changed  bool
}

type Store interface {
	Track(uniqueID, mac string) Entry
	Forget(uniqueID string)
	ForgetDevice(mac string)
	SetValue(uniqueID, value string) (Transition, bool)
	SetAvailability(mac string, online bool) []Transition
	SetAllUnavailable() []Transition
	Get(uniqueID string) (Entry, bool)
	List(mac string) []Entry
}

// MemoryStore is the in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	online  map[string]bool
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]*Entry{},
		online:  map[string]bool{},
		now:     time.Now,
	}
}

// Track starts tracking an entity. Existing entries are left untouched.
func (s *MemoryStore) Track(uniqueID, mac string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[uniqueID]; ok {
		return *e
	}
	now := s.now()
	e := &Entry{
		UniqueID:    uniqueID,
		DeviceMAC:   mac,
		Available:   s.online[mac],
		LastUpdated: now,
		LastChanged: now,
	}
	s.entries[uniqueID] = e
	return *e
}

func (s *MemoryStore) Forget(uniqueID string) {
	s.mu.Lock()
	delete(s.entries, uniqueID)
	s.mu.Unlock()
}

// ForgetDevice drops the device availability and all of its entries.
func (s *MemoryStore) ForgetDevice(mac string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, mac)
	for id, e := range s.entries {
		if e.DeviceMAC == mac {
			delete(s.entries, id)
		}
	}
}

// SetValue records a reading. It reports false for untracked entities.
func (s *MemoryStore) SetValue(uniqueID, value string) (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[uniqueID]
	if !ok {
		return Transition{}, false
	}
	return s.write(e, func(e *Entry) {
		e.Value = value
		e.HasValue = true
	}), true
}

// SetAvailability marks every entry of the device as available or not.
func (s *MemoryStore) SetAvailability(mac string, online bool) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[mac] = online
	var out []Transition
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		if e.DeviceMAC != mac || e.Available == online {
			continue
		}
		out = append(out, s.write(e, func(e *Entry) { e.Available = online }))
	}
	return out
}

// SetAllUnavailable is used when the broker connection is lost.
func (s *MemoryStore) SetAllUnavailable() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mac := range s.online {
		s.online[mac] = false
	}
	var out []Transition
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		if !e.Available {
			continue
		}
		out = append(out, s.write(e, func(e *Entry) { e.Available = false }))
	}
	return out
}

func (s *MemoryStore) Get(uniqueID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[uniqueID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns the entries of a device, or all entries when mac is empty,
// sorted by unique id.
func (s *MemoryStore) List(mac string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Entry, 0, len(s.entries))
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		if mac != "" && e.DeviceMAC != mac {
			continue
		}
		res = append(res, *e)
	}
	return res
}

func (s *MemoryStore) write(e *Entry, mutate func(*Entry)) Transition {
	old := e.State()
	mutate(e)
	now := s.now()
	e.LastUpdated = now
	tr := Transition{OldState: old, NewState: e.State()}
	if tr.OldState != tr.NewState {
		e.LastChanged = now
		tr.Changed = true
	}
	tr.Entry = *e
	return tr
}

func (s *MemoryStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
