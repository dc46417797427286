package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tasmota-bridge/core/events"
	"github.com/kilianp07/tasmota-bridge/core/monitoring"
	"github.com/kilianp07/tasmota-bridge/core/registry"
	"github.com/kilianp07/tasmota-bridge/core/state"
	"github.com/kilianp07/tasmota-bridge/core/tasmota"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
	"github.com/kilianp07/tasmota-bridge/internal/mqtttest"
	"github.com/kilianp07/tasmota-bridge/internal/tasmotatest"
)

const (
	configTopic  = "tasmota/discovery/00000049A3BC/config"
	sensorsTopic = "tasmota/discovery/00000049A3BC/sensors"
	sensorTopic  = "tasmota_49A3BC/tele/SENSOR"
	statusTopic  = "tasmota_49A3BC/stat/STATUS8"
	willTopic    = "tasmota_49A3BC/tele/LWT"
	pollTopic    = "tasmota_49A3BC/cmnd/STATUS"
)

type harness struct {
	t      *testing.T
	cli    *mqtttest.FakeClient
	bridge *Bridge
	events <-chan events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cli := mqtttest.NewFakeClient()
	bus := eventbus.NewTypedWithBuffer[events.Event](1024)
	t.Cleanup(bus.Close)
	sub := bus.Subscribe()
	b := New(Config{}, cli, registry.New(), state.NewMemoryStore(), bus, logger.NopLogger{})
	require.NoError(t, b.Start())
	return &harness{t: t, cli: cli, bridge: b, events: sub}
}

func (h *harness) setup(sensors string) {
	h.cli.Fire(configTopic, tasmotatest.DefaultConfig)
	h.cli.Fire(sensorsTopic, sensors)
}

func (h *harness) state(entityID string) string {
	h.t.Helper()
	st, ok := h.bridge.State(entityID)
	require.True(h.t, ok, "entity %s not found", entityID)
	return st.State
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func discoveryActions(evs []events.Event) []string {
	var out []string
	for _, e := range evs {
		if d, ok := e.(events.DiscoveryChanged); ok && d.EntityID != "" {
			out = append(out, d.Action)
		}
	}
	return out
}

func TestStartSubscribesDiscovery(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{
		"tasmota/discovery/+/config",
		"tasmota/discovery/+/sensors",
	}, h.cli.Subscriptions())
}

func TestControllingStateViaMQTT(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)

	assert.Equal(t, state.StateUnavailable, h.state("sensor.dht11_temperature"))

	h.cli.Fire(willTopic, "Online")
	assert.Equal(t, state.StateUnknown, h.state("sensor.dht11_temperature"))

	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":20.5}}`)
	assert.Equal(t, "20.5", h.state("sensor.dht11_temperature"))

	h.cli.Fire(statusTopic, `{"StatusSNS":{"DHT11":{"Temperature":20.0}}}`)
	assert.Equal(t, "20.0", h.state("sensor.dht11_temperature"))
}

func TestNestedSensorState(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.NestedSensorConfig)

	assert.Equal(t, state.StateUnavailable, h.state("sensor.tx23_speed_act"))
	h.cli.Fire(willTopic, "Online")
	assert.Equal(t, state.StateUnknown, h.state("sensor.tx23_speed_act"))

	h.cli.Fire(sensorTopic, `{"TX23":{"Speed":{"Act":"12.3"}}}`)
	assert.Equal(t, "12.3", h.state("sensor.tx23_speed_act"))

	h.cli.Fire(statusTopic, `{"StatusSNS":{"TX23":{"Speed":{"Act":"23.4"}}}}`)
	assert.Equal(t, "23.4", h.state("sensor.tx23_speed_act"))
}

func TestIndexedSensorState(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.IndexedSensorConfig)

	assert.Equal(t, state.StateUnavailable, h.state("sensor.energy_totaltariff_1"))
	h.cli.Fire(willTopic, "Online")
	assert.Equal(t, state.StateUnknown, h.state("sensor.energy_totaltariff_1"))

	h.cli.Fire(sensorTopic, `{"ENERGY":{"TotalTariff":[1.2,3.4]}}`)
	assert.Equal(t, "3.4", h.state("sensor.energy_totaltariff_1"))

	h.cli.Fire(statusTopic, `{"StatusSNS":{"ENERGY":{"TotalTariff":[5.6,7.8]}}}`)
	assert.Equal(t, "7.8", h.state("sensor.energy_totaltariff_1"))
}

func TestPartialTelemetryKeepsOtherValues(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.NestedSensorConfig)
	h.cli.Fire(willTopic, "Online")

	h.cli.Fire(sensorTopic, `{"TX23":{"Speed":{"Act":14.8},"Dir":{"Card":"WSW"}}}`)
	h.cli.Fire(sensorTopic, `{"TX23":{"Speed":{"Act":15.1,"Avg":null}}}`)

	assert.Equal(t, "15.1", h.state("sensor.tx23_speed_act"))
	assert.Equal(t, "WSW", h.state("sensor.tx23_dir_card"))
	assert.Equal(t, state.StateUnknown, h.state("sensor.tx23_speed_avg"))
}

func TestAttributes(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.AttributesSensorConfig)

	temp, ok := h.bridge.State("sensor.dht11_temperature")
	require.True(t, ok)
	assert.Equal(t, "temperature", temp.Attributes["device_class"])
	assert.Equal(t, "DHT11 Temperature", temp.Attributes["friendly_name"])
	assert.NotContains(t, temp.Attributes, "icon")
	assert.Equal(t, "C", temp.Attributes["unit_of_measurement"])

	co2, ok := h.bridge.State("sensor.beer_carbondioxide")
	require.True(t, ok)
	assert.NotContains(t, co2.Attributes, "device_class")
	assert.Equal(t, "Beer CarbonDioxide", co2.Attributes["friendly_name"])
	assert.Equal(t, "mdi:molecule-co2", co2.Attributes["icon"])
	assert.Equal(t, "ppm", co2.Attributes["unit_of_measurement"])
}

func TestIndexedAttributes(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.IndexedAttributesSensorConfig)

	temp, ok := h.bridge.State("sensor.dummy1_temperature_0")
	require.True(t, ok)
	assert.Equal(t, "temperature", temp.Attributes["device_class"])
	assert.Equal(t, "Dummy1 Temperature 0", temp.Attributes["friendly_name"])
	assert.Equal(t, "C", temp.Attributes["unit_of_measurement"])

	co2, ok := h.bridge.State("sensor.dummy2_carbondioxide_1")
	require.True(t, ok)
	assert.Equal(t, "Dummy2 CarbonDioxide 1", co2.Attributes["friendly_name"])
	assert.Equal(t, "mdi:molecule-co2", co2.Attributes["icon"])
	assert.Equal(t, "ppm", co2.Attributes["unit_of_measurement"])
}

func TestNoAssumedStateAttribute(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	st, ok := h.bridge.State("sensor.dht11_temperature")
	require.True(t, ok)
	assert.NotContains(t, st.Attributes, "assumed_state")
}

func TestAvailability(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	const id = "sensor.dht11_temperature"

	assert.Equal(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Online")
	assert.NotEqual(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Offline")
	assert.Equal(t, state.StateUnavailable, h.state(id))
}

func TestAvailabilityKeepsValue(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	const id = "sensor.dht11_temperature"

	h.cli.Fire(willTopic, "Online")
	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":20.5}}`)
	h.cli.Fire(willTopic, "Offline")
	assert.Equal(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Online")
	assert.Equal(t, "20.5", h.state(id))
}

func TestAvailabilityWhenConnectionLost(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	const id = "sensor.dht11_temperature"

	h.cli.Fire(willTopic, "Online")
	assert.NotEqual(t, state.StateUnavailable, h.state(id))

	h.bridge.ConnectionLost(errors.New("broker gone"))
	assert.Equal(t, state.StateUnavailable, h.state(id))

	h.bridge.Connected()
	assert.Equal(t, state.StateUnavailable, h.state(id))

	h.cli.Fire(willTopic, "Online")
	assert.NotEqual(t, state.StateUnavailable, h.state(id))

	var lost bool
	for _, e := range h.drain() {
		if a, ok := e.(events.AvailabilityChanged); ok && a.Reason == "connection_lost" {
			lost = true
			assert.Equal(t, tasmotatest.MAC, a.DeviceMAC)
			assert.False(t, a.Online)
		}
	}
	assert.True(t, lost)
}

func TestAvailabilityDiscoveryUpdate(t *testing.T) {
	h := newHarness(t)
	const id = "sensor.dht11_temperature"
	h.cli.Fire(configTopic, string(tasmotatest.ConfigWith(map[string]any{"onln": "Online1", "ofln": "Offline1"})))
	h.cli.Fire(sensorsTopic, tasmotatest.DefaultSensorConfig)

	assert.Equal(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Online1")
	assert.NotEqual(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Offline1")
	assert.Equal(t, state.StateUnavailable, h.state(id))

	h.cli.Fire(configTopic, string(tasmotatest.ConfigWith(map[string]any{"onln": "Online2", "ofln": "Offline2"})))

	h.cli.Fire(willTopic, "Online1")
	assert.Equal(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Online2")
	assert.NotEqual(t, state.StateUnavailable, h.state(id))
	h.cli.Fire(willTopic, "Offline2")
	assert.Equal(t, state.StateUnavailable, h.state(id))
}

func TestPollOnlyOnOnline(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	assert.Empty(t, h.cli.Published())

	h.cli.Fire(willTopic, "Online")
	pub := h.cli.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, pollTopic, pub[0].Topic)
	assert.Equal(t, "8", string(pub[0].Payload))
	assert.Equal(t, byte(0), pub[0].QoS)
	assert.False(t, pub[0].Retained)
	h.cli.ResetPublished()

	// already available
	h.cli.Fire(willTopic, "Online")
	assert.Empty(t, h.cli.Published())

	h.bridge.ConnectionLost(errors.New("gone"))
	h.bridge.Connected()
	assert.Empty(t, h.cli.Published())

	h.cli.Fire(willTopic, "Online")
	pub = h.cli.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, pollTopic, pub[0].Topic)
	h.cli.ResetPublished()

	h.cli.Fire(willTopic, "Offline")
	assert.Empty(t, h.cli.Published())
}

func TestPollWhenSensorsFollowOnline(t *testing.T) {
	h := newHarness(t)
	h.cli.Fire(configTopic, tasmotatest.DefaultConfig)
	h.cli.Fire(willTopic, "Online")
	assert.Empty(t, h.cli.Published())

	h.cli.Fire(sensorsTopic, tasmotatest.DefaultSensorConfig)
	pub := h.cli.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, pollTopic, pub[0].Topic)
	assert.Equal(t, state.StateUnknown, h.state("sensor.dht11_temperature"))
	h.cli.ResetPublished()

	h.cli.Fire(sensorsTopic, tasmotatest.DefaultSensorConfig)
	assert.Empty(t, h.cli.Published())
}

func TestPollFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	h.cli.PublishErr = errors.New("not connected")
	h.cli.Fire(willTopic, "Online")
	assert.Equal(t, state.StateUnknown, h.state("sensor.dht11_temperature"))
}

func TestDiscoveryRemoval(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	_, ok := h.bridge.State("sensor.dht11_temperature")
	require.True(t, ok)

	h.cli.Fire(sensorsTopic, `{"sn":{"Time":"2020-09-25T12:47:15"}}`)
	_, ok = h.bridge.State("sensor.dht11_temperature")
	assert.False(t, ok)
	assert.Contains(t, discoveryActions(h.drain()), events.ActionRemoved)
}

func TestDiscoveryUpdateChangesAttributes(t *testing.T) {
	h := newHarness(t)
	h.setup(`{"sn":{"DHT11":{"Temperature":null},"TempUnit":"C"}}`)
	h.cli.Fire(willTopic, "Online")
	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":20.5}}`)
	h.drain()

	h.cli.Fire(sensorsTopic, `{"sn":{"DHT11":{"Temperature":null},"TempUnit":"F"}}`)
	st, ok := h.bridge.State("sensor.dht11_temperature")
	require.True(t, ok)
	assert.Equal(t, "F", st.Attributes["unit_of_measurement"])
	assert.Equal(t, "20.5", st.State)
	assert.Equal(t, []string{events.ActionUpdated}, discoveryActions(h.drain()))
}

func TestDiscoveryUpdateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	h.drain()

	h.cli.Fire(sensorsTopic, tasmotatest.DefaultSensorConfig)
	evs := h.drain()
	assert.Equal(t, []string{events.ActionUnchanged}, discoveryActions(evs))
	for _, e := range evs {
		_, isState := e.(events.StateChanged)
		assert.False(t, isState)
	}
}

func TestConfigUnchangedKeepsSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	before := h.bridge.Subscriptions(tasmotatest.MAC)

	h.cli.Fire(configTopic, tasmotatest.DefaultConfig)
	assert.Equal(t, before, h.bridge.Subscriptions(tasmotatest.MAC))
	for _, e := range h.drain() {
		if d, ok := e.(events.DiscoveryChanged); ok && d.Kind == string(tasmota.KindConfig) && d.Action != events.ActionAdded {
			assert.Equal(t, events.ActionUnchanged, d.Action)
		}
	}
}

func TestDeviceRemove(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	require.Len(t, h.bridge.Devices(), 1)

	h.cli.Fire(configTopic, "")
	assert.Empty(t, h.bridge.Devices())
	_, ok := h.bridge.State("sensor.dht11_temperature")
	assert.False(t, ok)
	assert.Empty(t, h.bridge.Subscriptions(tasmotatest.MAC))
	assert.NotContains(t, h.cli.Subscriptions(), sensorTopic)

	// telemetry after removal is ignored
	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":20.5}}`)
	assert.Empty(t, h.bridge.States(""))
}

func TestDeviceRediscoveredAfterRemove(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	h.cli.Fire(configTopic, "")
	h.setup(tasmotatest.DefaultSensorConfig)

	assert.Equal(t, state.StateUnavailable, h.state("sensor.dht11_temperature"))
	h.cli.Fire(willTopic, "Online")
	assert.Equal(t, state.StateUnknown, h.state("sensor.dht11_temperature"))
}

func TestEntityIDUpdateSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	topics := []string{sensorTopic, statusTopic, willTopic}
	assert.ElementsMatch(t, topics, h.bridge.Subscriptions(tasmotatest.MAC))

	_, err := h.bridge.RenameEntity("sensor.dht11_temperature", "sensor.milk")
	require.NoError(t, err)

	_, ok := h.bridge.State("sensor.dht11_temperature")
	assert.False(t, ok)
	assert.ElementsMatch(t, topics, h.bridge.Subscriptions(tasmotatest.MAC))
	for _, topic := range topics {
		assert.Contains(t, h.cli.Subscriptions(), topic)
	}

	h.cli.Fire(willTopic, "Online")
	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":21}}`)
	assert.Equal(t, "21", h.state("sensor.milk"))
}

func TestEntityIDUpdateDiscoveryUpdate(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)

	h.cli.Fire(willTopic, "Online")
	assert.NotEqual(t, state.StateUnavailable, h.state("sensor.dht11_temperature"))

	_, err := h.bridge.RenameEntity("sensor.dht11_temperature", "sensor.milk")
	require.NoError(t, err)
	assert.NotEqual(t, state.StateUnavailable, h.state("sensor.milk"))

	h.cli.Fire(configTopic, string(tasmotatest.ConfigWith(map[string]any{"ofln": "Offline2"})))
	h.cli.Fire(willTopic, "Offline2")
	assert.Equal(t, state.StateUnavailable, h.state("sensor.milk"))

	h.cli.Fire(sensorsTopic, tasmotatest.DefaultSensorConfig)
	_, ok := h.bridge.State("sensor.milk")
	assert.True(t, ok)
	_, ok = h.bridge.State("sensor.dht11_temperature")
	assert.False(t, ok)
}

func TestRenameEventCarriesPreviousID(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	h.drain()

	_, err := h.bridge.RenameEntity("sensor.dht11_temperature", "sensor.dht11_temperature")
	require.NoError(t, err)
	assert.Empty(t, h.drain())

	_, err = h.bridge.RenameEntity("sensor.dht11_temperature", "sensor.milk")
	require.NoError(t, err)
	evs := h.drain()
	require.NotEmpty(t, evs)
	ren, ok := evs[0].(events.DiscoveryChanged)
	require.True(t, ok)
	assert.Equal(t, events.ActionRenamed, ren.Action)
	assert.Equal(t, "sensor.milk", ren.EntityID)
	assert.Equal(t, "sensor.dht11_temperature", ren.PreviousEntityID)
}

func TestRenameErrors(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.AttributesSensorConfig)

	_, err := h.bridge.RenameEntity("sensor.nope", "sensor.milk")
	assert.ErrorIs(t, err, registry.ErrUnknownEntity)
	_, err = h.bridge.RenameEntity("sensor.dht11_temperature", "sensor.beer_carbondioxide")
	assert.ErrorIs(t, err, registry.ErrEntityIDTaken)
	_, err = h.bridge.RenameEntity("sensor.dht11_temperature", "light.milk")
	assert.ErrorIs(t, err, registry.ErrInvalidEntityID)
}

func TestTopicChangeMovesSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)

	h.cli.Fire(configTopic, string(tasmotatest.ConfigWith(map[string]any{"t": "kitchen"})))
	assert.ElementsMatch(t, []string{
		"kitchen/tele/SENSOR", "kitchen/stat/STATUS8", "kitchen/tele/LWT",
	}, h.bridge.Subscriptions(tasmotatest.MAC))
	assert.NotContains(t, h.cli.Subscriptions(), sensorTopic)

	h.cli.Fire("kitchen/tele/LWT", "Online")
	h.cli.Fire("kitchen/tele/SENSOR", `{"DHT11":{"Temperature":19.5}}`)
	assert.Equal(t, "19.5", h.state("sensor.dht11_temperature"))
}

func TestSensorsBeforeConfig(t *testing.T) {
	h := newHarness(t)
	h.cli.Fire(sensorsTopic, tasmotatest.DefaultSensorConfig)
	_, ok := h.bridge.State("sensor.dht11_temperature")
	assert.False(t, ok)

	h.cli.Fire(configTopic, tasmotatest.DefaultConfig)
	assert.Equal(t, state.StateUnavailable, h.state("sensor.dht11_temperature"))
}

type captureMonitor struct{ tags []map[string]string }

func (c *captureMonitor) CaptureException(_ error, tags map[string]string) {
	c.tags = append(c.tags, tags)
}
func (c *captureMonitor) Flush(time.Duration) {}

func TestInvalidPayloadsAreDropped(t *testing.T) {
	mon := &captureMonitor{}
	monitoring.Init(mon)
	defer monitoring.Init(nil)

	h := newHarness(t)
	h.cli.Fire(configTopic, "{not json")
	h.cli.Fire("tasmota/discovery/00000049A3BC/bogus", tasmotatest.DefaultConfig)
	assert.Empty(t, h.bridge.Devices())

	h.setup(tasmotatest.DefaultSensorConfig)
	h.cli.Fire(sensorsTopic, `{"sn": 3}`)
	_, ok := h.bridge.State("sensor.dht11_temperature")
	assert.True(t, ok)

	h.cli.Fire(willTopic, "Online")
	h.cli.Fire(sensorTopic, "garbage")
	h.cli.Fire(statusTopic, `{"DHT11":{"Temperature":20}}`)
	assert.Equal(t, state.StateUnknown, h.state("sensor.dht11_temperature"))

	require.NotEmpty(t, mon.tags)
	assert.Equal(t, "bridge", mon.tags[0]["module"])
	assert.Equal(t, tasmotatest.MAC, mon.tags[0]["mac"])
}

func TestStopReleasesSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	require.NoError(t, h.bridge.Stop())
	assert.Empty(t, h.cli.Subscriptions())
}

func TestStateEventsCarryTransitions(t *testing.T) {
	h := newHarness(t)
	h.setup(tasmotatest.DefaultSensorConfig)
	h.cli.Fire(willTopic, "Online")
	h.drain()

	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":20.5}}`)
	h.cli.Fire(sensorTopic, `{"DHT11":{"Temperature":20.5}}`)
	var got []events.StateChanged
	for _, e := range h.drain() {
		if s, ok := e.(events.StateChanged); ok {
			got = append(got, s)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, state.StateUnknown, got[0].OldState)
	assert.Equal(t, "20.5", got[0].NewState)
	assert.True(t, got[0].Changed)
	assert.False(t, got[1].Changed)
	assert.Equal(t, "sensor.dht11_temperature", got[1].EntityID)
	assert.Equal(t, "C", got[1].Attributes["unit_of_measurement"])
}
