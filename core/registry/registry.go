package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kilianp07/tasmota-bridge/core/tasmota"
)

// Domain is the entity id prefix of sensor entities.
const Domain = "sensor"

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrEntityIDTaken   = errors.New("entity id already in use")
	ErrInvalidEntityID = errors.New("invalid entity id")
)

// Change describes what a discovery message did to a record.
type Change int

const (
	Unchanged Change = iota
	Added
	Updated
	Removed
)

func (c Change) String() string {
	switch c {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unchanged"
	}
}

// Device is a discovered Tasmota device.
type Device struct {
	MAC    string                `json:"mac"`
	Config *tasmota.DeviceConfig `json:"config"`
}

// Entity is a sensor entity bound to one telemetry value of a device.
type Entity struct {
	EntityID string `json:"entity_id"`
	tasmota.SensorDescriptor
}

// Attributes returns the presentation attributes of the entity state.
func (e Entity) Attributes() map[string]any {
	attrs := map[string]any{"friendly_name": e.FriendlyName}
	if e.Unit != "" {
		attrs["unit_of_measurement"] = e.Unit
	}
	if e.DeviceClass != "" {
		attrs["device_class"] = e.DeviceClass
	}
	if e.Icon != "" {
		attrs["icon"] = e.Icon
	}
	return attrs
}

// EntityChange reports the effect of a discovery message on one entity.
type EntityChange struct {
	Change Change
	Entity Entity
}

// ConfigResult reports the effect of a config discovery message.
type ConfigResult struct {
	Change   Change
	Previous *tasmota.DeviceConfig
	// Entities lists entities added from buffered sensors or removed along
	// with the device.
	Entities []EntityChange
}

// SensorsResult reports the effect of a sensors discovery message.
type SensorsResult struct {
	// Deferred is set when the device config is not known yet; the sensors
	// are applied once it arrives.
	Deferred bool
	Changes  []EntityChange
}

// Filter restricts entity queries.
type Filter struct {
	DeviceMAC string
}

// Registry holds discovered devices and their sensor entities.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	entities  map[string]*Entity
	entityIDs map[string]string
	pending   map[string][]tasmota.SensorDescriptor
}

func New() *Registry {
	return &Registry{
		devices:   map[string]*Device{},
		entities:  map[string]*Entity{},
		entityIDs: map[string]string{},
		pending:   map[string][]tasmota.SensorDescriptor{},
	}
}

// ApplyConfig adds, updates or, for a nil cfg, removes a device.
func (r *Registry) ApplyConfig(mac string, cfg *tasmota.DeviceConfig) ConfigResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, known := r.devices[mac]
	if cfg == nil {
		delete(r.pending, mac)
		if !known {
			return ConfigResult{Change: Unchanged}
		}
		res := ConfigResult{Change: Removed, Previous: dev.Config}
		for _, id := range r.sortedEntityIDs(mac) {
			res.Entities = append(res.Entities, EntityChange{Change: Removed, Entity: r.removeEntity(id)})
		}
		delete(r.devices, mac)
		return res
	}

	if known {
		if dev.Config.Equal(cfg) {
			return ConfigResult{Change: Unchanged, Previous: dev.Config}
		}
		prev := dev.Config
		dev.Config = cfg
		return ConfigResult{Change: Updated, Previous: prev}
	}

	r.devices[mac] = &Device{MAC: mac, Config: cfg}
	res := ConfigResult{Change: Added}
	if ds, ok := r.pending[mac]; ok {
		delete(r.pending, mac)
		res.Entities = r.applySensors(mac, ds)
	}
	return res
}

// ApplySensors reconciles the entities of a device with the announced
// descriptors.
func (r *Registry) ApplySensors(mac string, ds []tasmota.SensorDescriptor) SensorsResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[mac]; !ok {
		r.pending[mac] = ds
		return SensorsResult{Deferred: true}
	}
	return SensorsResult{Changes: r.applySensors(mac, ds)}
}

func (r *Registry) applySensors(mac string, ds []tasmota.SensorDescriptor) []EntityChange {
	var changes []EntityChange
	announced := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		announced[d.UniqueID] = struct{}{}
		cur, ok := r.entities[d.UniqueID]
		switch {
		case !ok:
			e := &Entity{EntityID: r.allocateEntityID(d.ObjectID), SensorDescriptor: d}
			r.entities[d.UniqueID] = e
			r.entityIDs[e.EntityID] = d.UniqueID
			changes = append(changes, EntityChange{Change: Added, Entity: *e})
		case cur.SensorDescriptor.Equal(d):
			changes = append(changes, EntityChange{Change: Unchanged, Entity: *cur})
		default:
			cur.SensorDescriptor = d
			changes = append(changes, EntityChange{Change: Updated, Entity: *cur})
		}
	}
	for _, id := range r.sortedEntityIDs(mac) {
		if _, ok := announced[id]; ok {
			continue
		}
		changes = append(changes, EntityChange{Change: Removed, Entity: r.removeEntity(id)})
	}
	return changes
}

func (r *Registry) removeEntity(uniqueID string) Entity {
	e := r.entities[uniqueID]
	delete(r.entities, uniqueID)
	delete(r.entityIDs, e.EntityID)
	return *e
}

func (r *Registry) allocateEntityID(objectID string) string {
	base := Domain + "." + objectID
	id := base
	for n := 2; ; n++ {
		if _, taken := r.entityIDs[id]; !taken {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

// RenameEntity changes the entity id of an entity and returns the renamed
// entity.
func (r *Registry) RenameEntity(entityID, newEntityID string) (Entity, error) {
	if err := ValidateEntityID(newEntityID); err != nil {
		return Entity{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, ok := r.entityIDs[entityID]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	if entityID == newEntityID {
		return *r.entities[uid], nil
	}
	if _, taken := r.entityIDs[newEntityID]; taken {
		return Entity{}, fmt.Errorf("%w: %s", ErrEntityIDTaken, newEntityID)
	}
	e := r.entities[uid]
	delete(r.entityIDs, entityID)
	e.EntityID = newEntityID
	r.entityIDs[newEntityID] = uid
	return *e, nil
}

// ValidateEntityID checks that id is sensor.<slug>.
func ValidateEntityID(id string) error {
	obj, ok := strings.CutPrefix(id, Domain+".")
	if !ok || obj == "" || tasmota.Slugify(obj) != obj {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	return nil
}

func (r *Registry) Device(mac string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[mac]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Devices returns all devices sorted by MAC.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		res = append(res, *d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MAC < res[j].MAC })
	return res
}

func (r *Registry) Entity(entityID string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.entityIDs[entityID]
	if !ok {
		return Entity{}, false
	}
	return *r.entities[uid], true
}

func (r *Registry) EntityByUniqueID(uniqueID string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[uniqueID]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns the entities matching f sorted by entity id.
func (r *Registry) Entities(f Filter) []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if f.DeviceMAC != "" && e.MAC != f.DeviceMAC {
			continue
		}
		res = append(res, *e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].EntityID < res[j].EntityID })
	return res
}

func (r *Registry) sortedEntityIDs(mac string) []string {
	var ids []string
	for id, e := range r.entities {
		if e.MAC == mac {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
