package bridge

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kilianp07/tasmota-bridge/core/events"
	"github.com/kilianp07/tasmota-bridge/core/logger"
	"github.com/kilianp07/tasmota-bridge/core/monitoring"
	coremqtt "github.com/kilianp07/tasmota-bridge/core/mqtt"
	"github.com/kilianp07/tasmota-bridge/core/registry"
	"github.com/kilianp07/tasmota-bridge/core/state"
	"github.com/kilianp07/tasmota-bridge/core/tasmota"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
)

// Config holds the bridge settings.
type Config struct {
	// Prefix is the discovery topic prefix.
	Prefix string `json:"prefix"`
	// QoS is used for every subscription.
	QoS byte `json:"qos"`
}

// SetDefaults applies the firmware defaults.
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = tasmota.DefaultPrefix
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}
	return nil
}

// Bridge turns Tasmota discovery and telemetry messages into entity states.
type Bridge struct {
	cfg    Config
	cli    coremqtt.Client
	reg    *registry.Registry
	states state.Store
	bus    *eventbus.TypedBus[events.Event]
	log    logger.Logger
	now    func() time.Time

	mu   sync.Mutex
	subs map[string][]string
}

// New creates a Bridge. Call Start to subscribe to the discovery topics.
func New(cfg Config, cli coremqtt.Client, reg *registry.Registry, states state.Store, bus *eventbus.TypedBus[events.Event], log logger.Logger) *Bridge {
	cfg.SetDefaults()
	return &Bridge{
		cfg:    cfg,
		cli:    cli,
		reg:    reg,
		states: states,
		bus:    bus,
		log:    log,
		now:    time.Now,
		subs:   map[string][]string{},
	}
}

// Start subscribes to the discovery topics of every device.
func (b *Bridge) Start() error {
	for _, f := range tasmota.DiscoveryFilters(b.cfg.Prefix) {
		if err := b.cli.Subscribe(f, b.cfg.QoS, b.HandleDiscovery); err != nil {
			return fmt.Errorf("subscribe %s: %w", f, err)
		}
	}
	b.log.Infof("listening for discovery on %s/#", b.cfg.Prefix)
	return nil
}

// Stop releases every subscription held by the bridge.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := tasmota.DiscoveryFilters(b.cfg.Prefix)
	for mac, ts := range b.subs {
		topics = append(topics, ts...)
		delete(b.subs, mac)
	}
	return b.cli.Unsubscribe(topics...)
}

// HandleDiscovery processes a message received on a discovery topic.
func (b *Bridge) HandleDiscovery(topic string, payload []byte) {
	mac, kind, err := tasmota.ParseDiscoveryTopic(b.cfg.Prefix, topic)
	if err != nil {
		b.log.Warnf("ignoring discovery message: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case tasmota.KindConfig:
		b.applyConfig(mac, payload)
	case tasmota.KindSensors:
		b.applySensors(mac, payload)
	}
}

func (b *Bridge) applyConfig(mac string, payload []byte) {
	cfg, err := tasmota.ParseDeviceConfig(mac, payload)
	if err != nil {
		b.report(err, mac, "invalid config discovery for %s: %v")
		return
	}
	res := b.reg.ApplyConfig(mac, cfg)
	b.publishDiscovery(mac, tasmota.KindConfig, res.Change, "")

	switch res.Change {
	case registry.Unchanged:
		b.log.Debugf("ignoring unchanged config for %s", mac)
	case registry.Added:
		b.log.Infof("discovered device %s (%s, %s)", mac, cfg.Name(), cfg.Model)
		b.subscribeDevice(mac, cfg)
	case registry.Updated:
		if !slices.Equal(res.Previous.SensorTopics(), cfg.SensorTopics()) {
			b.log.Infof("topics of %s changed, moving subscriptions", mac)
			b.unsubscribeDevice(mac)
			b.subscribeDevice(mac, cfg)
		}
	case registry.Removed:
		b.log.Infof("removing device %s", mac)
		b.unsubscribeDevice(mac)
	}
	b.applyEntityChanges(res.Entities)
	if res.Change == registry.Removed {
		b.states.ForgetDevice(mac)
	}
}

func (b *Bridge) applySensors(mac string, payload []byte) {
	ds, err := tasmota.ParseSensors(mac, payload)
	if err != nil {
		b.report(err, mac, "invalid sensors discovery for %s: %v")
		return
	}
	res := b.reg.ApplySensors(mac, ds)
	if res.Deferred {
		b.log.Debugf("sensors for unknown device %s buffered until its config arrives", mac)
		return
	}
	b.applyEntityChanges(res.Changes)
}

// applyEntityChanges updates the state store. Entities added to a device
// that is already available trigger a poll.
func (b *Bridge) applyEntityChanges(changes []registry.EntityChange) {
	var pollMAC string
	for _, c := range changes {
		e := c.Entity
		b.publishDiscovery(e.MAC, tasmota.KindSensors, c.Change, e.EntityID)
		switch c.Change {
		case registry.Added:
			b.log.Infof("adding %s (%s)", e.EntityID, e.UniqueID)
			entry := b.states.Track(e.UniqueID, e.MAC)
			b.publishState(e, state.Transition{Entry: entry, NewState: entry.State(), Changed: true})
			if entry.Available {
				pollMAC = e.MAC
			}
		case registry.Updated:
			b.log.Infof("updating %s", e.EntityID)
			if entry, ok := b.states.Get(e.UniqueID); ok {
				b.publishState(e, state.Transition{Entry: entry, OldState: entry.State(), NewState: entry.State()})
			}
		case registry.Removed:
			b.log.Infof("removing %s", e.EntityID)
			b.states.Forget(e.UniqueID)
		default:
			b.log.Debugf("ignoring unchanged update for %s", e.EntityID)
		}
	}
	if pollMAC == "" {
		return
	}
	if dev, ok := b.reg.Device(pollMAC); ok {
		b.poll(dev.Config)
	}
}

func (b *Bridge) subscribeDevice(mac string, cfg *tasmota.DeviceConfig) {
	handlers := map[string]coremqtt.MessageHandler{
		cfg.TeleSensorTopic(): b.readingsHandler(mac, tasmota.ParseReadings),
		cfg.StatusTopic(8):    b.readingsHandler(mac, tasmota.ParseStatusReadings),
		cfg.WillTopic():       b.willHandler(mac),
	}
	var subscribed []string
	for _, topic := range cfg.SensorTopics() {
		if err := b.cli.Subscribe(topic, b.cfg.QoS, handlers[topic]); err != nil {
			b.report(fmt.Errorf("subscribe %s: %w", topic, err), mac, "subscription failed for %s: %v")
			continue
		}
		subscribed = append(subscribed, topic)
	}
	b.subs[mac] = subscribed
}

func (b *Bridge) unsubscribeDevice(mac string) {
	topics := b.subs[mac]
	delete(b.subs, mac)
	if len(topics) == 0 {
		return
	}
	if err := b.cli.Unsubscribe(topics...); err != nil {
		b.log.Warnf("unsubscribe %s: %v", mac, err)
	}
}

func (b *Bridge) readingsHandler(mac string, parse func([]byte) (tasmota.Readings, error)) coremqtt.MessageHandler {
	return func(topic string, payload []byte) {
		readings, err := parse(payload)
		if err != nil {
			b.log.Warnf("dropping telemetry on %s: %v", topic, err)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, e := range b.reg.Entities(registry.Filter{DeviceMAC: mac}) {
			v, ok := readings.Lookup(e.Path)
			if !ok {
				continue
			}
			if tr, ok := b.states.SetValue(e.UniqueID, v); ok {
				b.publishState(e, tr)
			}
		}
	}
}

func (b *Bridge) willHandler(mac string) coremqtt.MessageHandler {
	return func(topic string, payload []byte) {
		b.mu.Lock()
		defer b.mu.Unlock()
		dev, ok := b.reg.Device(mac)
		if !ok {
			return
		}
		switch dev.Config.Availability(payload) {
		case tasmota.AvailabilityOnline:
			// poll only when entities were unavailable
			if b.setAvailability(mac, true, "lwt") > 0 {
				b.poll(dev.Config)
			}
		case tasmota.AvailabilityOffline:
			b.setAvailability(mac, false, "lwt")
		default:
			b.log.Debugf("ignoring will payload %q on %s", payload, topic)
		}
	}
}

// poll asks the device for a STATUS 8 report.
func (b *Bridge) poll(cfg *tasmota.DeviceConfig) {
	if err := b.cli.Publish(cfg.PollTopic(), 0, false, []byte(tasmota.PollPayload)); err != nil {
		b.log.Warnf("poll %s: %v", cfg.PollTopic(), err)
	}
}

// setAvailability returns the number of entities whose availability changed.
func (b *Bridge) setAvailability(mac string, online bool, reason string) int {
	b.log.Infof("device %s online=%t (%s)", mac, online, reason)
	trs := b.states.SetAvailability(mac, online)
	b.bus.Publish(events.AvailabilityChanged{DeviceMAC: mac, Online: online, Reason: reason, Time: b.now()})
	b.publishTransitions(trs)
	return len(trs)
}

// Connected is called once the broker connection is (re)established.
// Device availability is restored by the retained will messages.
func (b *Bridge) Connected() {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	b.log.Infof("broker connected, %d devices known", n)
}

// ConnectionLost marks every device unavailable.
func (b *Bridge) ConnectionLost(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Warnf("broker connection lost: %v", err)
	trs := b.states.SetAllUnavailable()
	for _, d := range b.reg.Devices() {
		b.bus.Publish(events.AvailabilityChanged{DeviceMAC: d.MAC, Online: false, Reason: "connection_lost", Time: b.now()})
	}
	b.publishTransitions(trs)
}

// RenameEntity changes an entity id. Subscriptions are per device and are
// not affected.
func (b *Bridge) RenameEntity(entityID, newEntityID string) (registry.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.reg.RenameEntity(entityID, newEntityID)
	if err != nil {
		return registry.Entity{}, err
	}
	if entityID == newEntityID {
		return e, nil
	}
	b.log.Infof("renamed %s to %s", entityID, newEntityID)
	b.bus.Publish(events.DiscoveryChanged{
		DeviceMAC:        e.MAC,
		Kind:             string(tasmota.KindSensors),
		Action:           events.ActionRenamed,
		EntityID:         e.EntityID,
		PreviousEntityID: entityID,
		Time:             b.now(),
	})
	if entry, ok := b.states.Get(e.UniqueID); ok {
		b.publishState(e, state.Transition{Entry: entry, OldState: entry.State(), NewState: entry.State()})
	}
	return e, nil
}

// Subscriptions returns the device topics currently subscribed for mac.
func (b *Bridge) Subscriptions(mac string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.subs[mac])
}

func (b *Bridge) publishTransitions(trs []state.Transition) {
	for _, tr := range trs {
		if e, ok := b.reg.EntityByUniqueID(tr.Entry.UniqueID); ok {
			b.publishState(e, tr)
		}
	}
}

func (b *Bridge) publishState(e registry.Entity, tr state.Transition) {
	b.bus.Publish(events.StateChanged{
		EntityID:   e.EntityID,
		UniqueID:   e.UniqueID,
		DeviceMAC:  e.MAC,
		OldState:   tr.OldState,
		NewState:   tr.NewState,
		Attributes: e.Attributes(),
		Changed:    tr.Changed,
		Time:       tr.Entry.LastUpdated,
	})
}

func (b *Bridge) publishDiscovery(mac string, kind tasmota.Kind, c registry.Change, entityID string) {
	b.bus.Publish(events.DiscoveryChanged{DeviceMAC: mac, Kind: string(kind), Action: c.String(), EntityID: entityID, Time: b.now()})
}

func (b *Bridge) report(err error, mac, format string) {
	b.log.Errorf(format, mac, err)
	monitoring.CaptureException(err, map[string]string{"module": "bridge", "mac": mac})
}
