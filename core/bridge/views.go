package bridge

import (
	"time"

	"github.com/kilianp07/tasmota-bridge/core/registry"
)

// EntityState is an entity joined with its current state.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	UniqueID    string         `json:"unique_id"`
	DeviceMAC   string         `json:"device_mac"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
	LastChanged time.Time      `json:"last_changed"`
}

// State returns the current state of an entity.
func (b *Bridge) State(entityID string) (EntityState, bool) {
	e, ok := b.reg.Entity(entityID)
	if !ok {
		return EntityState{}, false
	}
	return b.view(e)
}

// States returns the states of the entities of a device, or of all
// entities when mac is empty.
func (b *Bridge) States(mac string) []EntityState {
	entities := b.reg.Entities(registry.Filter{DeviceMAC: mac})
	res := make([]EntityState, 0, len(entities))
	for _, e := range entities {
		if v, ok := b.view(e); ok {
			res = append(res, v)
		}
	}
	return res
}

// Devices returns the discovered devices.
func (b *Bridge) Devices() []registry.Device { return b.reg.Devices() }

func (b *Bridge) view(e registry.Entity) (EntityState, bool) {
	entry, ok := b.states.Get(e.UniqueID)
	if !ok {
		return EntityState{}, false
	}
	return EntityState{
		EntityID:    e.EntityID,
		UniqueID:    e.UniqueID,
		DeviceMAC:   e.MAC,
		State:       entry.State(),
		Attributes:  e.Attributes(),
		LastUpdated: entry.LastUpdated,
		LastChanged: entry.LastChanged,
	}, true
}
