package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tasmota-bridge/core/bridge"
	"github.com/kilianp07/tasmota-bridge/core/events"
	"github.com/kilianp07/tasmota-bridge/core/factory"
	"github.com/kilianp07/tasmota-bridge/core/registry"
	"github.com/kilianp07/tasmota-bridge/core/state"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
	"github.com/kilianp07/tasmota-bridge/internal/mqtttest"
	"github.com/kilianp07/tasmota-bridge/internal/tasmotatest"
)

func TestRecorderStoresChanges(t *testing.T) {
	store := memoryDB(t)
	bus := eventbus.NewTyped[events.Event]()
	ctx, cancel := context.WithCancel(context.Background())
	done := StartRecorder(ctx, bus, store, logger.NopLogger{})

	now := time.Unix(1700000000, 0)
	bus.Publish(events.StateChanged{UniqueID: "uid", EntityID: "sensor.a", NewState: "20.5", Changed: true, Time: now})
	bus.Publish(events.StateChanged{UniqueID: "uid", EntityID: "sensor.a", NewState: "20.5", Changed: false, Time: now})
	bus.Publish(events.AvailabilityChanged{DeviceMAC: "m"})

	assert.Eventually(t, func() bool {
		out, err := store.Query(context.Background(), Query{UniqueID: "uid"})
		return err == nil && len(out) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecorderKeepsDiscoveryBurst(t *testing.T) {
	store := memoryDB(t)
	bus := eventbus.NewTypedWithBuffer[events.Event](1)
	counted := bus.SubscribeQueued()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := StartRecorder(ctx, bus, store, logger.NopLogger{})

	cli := mqtttest.NewFakeClient()
	b := bridge.New(bridge.Config{}, cli, registry.New(), state.NewMemoryStore(), bus, logger.NopLogger{})
	require.NoError(t, b.Start())
	for i := 1; i <= 3; i++ {
		mac := fmt.Sprintf("0000004900%02X", i)
		topic := "tasmota_" + mac[6:]
		cli.Fire("tasmota/discovery/"+mac+"/config", string(tasmotatest.ConfigWith(map[string]any{"mac": mac, "t": topic})))
		cli.Fire("tasmota/discovery/"+mac+"/sensors", tasmotatest.IndexedSensorConfig)
		cli.Fire(topic+"/tele/LWT", "Online")
		cli.Fire(topic+"/tele/SENSOR", `{"ENERGY":{"Total":1.5,"TotalTariff":[0.5,1.0],"Power":42,"Voltage":230.1}}`)
	}
	require.NoError(t, b.Stop())
	bus.Close()
	<-done

	changed := 0
	for ev := range counted {
		if sc, ok := ev.(events.StateChanged); ok && sc.Changed {
			changed++
		}
	}
	require.Greater(t, changed, 3*19)

	recs, err := store.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, recs, changed)
}

func TestNewStoreBackends(t *testing.T) {
	assert.Equal(t, []string{"jsonl", "sqlite"}, Backends())

	s, err := NewStore(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": t.TempDir() + "/h.jsonl"}})
	require.NoError(t, err)
	assert.IsType(t, &RotatingJSONLStore{}, s)
	_ = s.Close()

	s, err = NewStore(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "file:" + t.Name() + "?mode=memory&cache=shared"}})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	_ = s.Close()

	_, err = NewStore(factory.ModuleConfig{Type: "csv"})
	assert.ErrorIs(t, err, factory.ErrUnknownType)
}
