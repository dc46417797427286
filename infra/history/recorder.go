package history

import (
	"context"
	"time"

	"github.com/kilianp07/tasmota-bridge/core/events"
	"github.com/kilianp07/tasmota-bridge/core/logger"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
)

// StartRecorder appends every rendered state change published on bus to
// store until ctx is canceled or the bus is closed. The returned channel is
// closed when the recorder stops.
func StartRecorder(ctx context.Context, bus *eventbus.TypedBus[events.Event], store Store, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	sub := bus.SubscribeQueued()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				sc, isState := ev.(events.StateChanged)
				if !isState || !sc.Changed {
					continue
				}
				if err := appendChange(ctx, store, sc); err != nil {
					log.Warnf("history append %s: %v", sc.EntityID, err)
				}
			}
		}
	}()
	return done
}

func appendChange(ctx context.Context, store Store, sc events.StateChanged) error {
	ts := sc.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return store.Append(ctx, Record{
		Timestamp:  ts,
		UniqueID:   sc.UniqueID,
		EntityID:   sc.EntityID,
		DeviceMAC:  sc.DeviceMAC,
		State:      sc.NewState,
		Attributes: sc.Attributes,
	})
}
