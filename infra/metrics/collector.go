package metrics

import (
	"context"

	"github.com/kilianp07/tasmota-bridge/core/events"
	coremetrics "github.com/kilianp07/tasmota-bridge/core/metrics"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
)

// StartEventCollector forwards bus events to sink until ctx is canceled or
// the bus is closed. The returned channel is closed when the collector stops.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	if log == nil {
		log = logger.NopLogger{}
	}
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
				if err := record(sink, ev); err != nil {
					log.Warnf("record %s: %v", ev.EventName(), err)
				}
			}
		}
	}()
	return done
}

func record(sink coremetrics.MetricsSink, ev events.Event) error {
	switch e := ev.(type) {
	case events.StateChanged:
		unit, _ := e.Attributes["unit_of_measurement"].(string)
		class, _ := e.Attributes["device_class"].(string)
		return sink.RecordState(coremetrics.StateEvent{
			EntityID:    e.EntityID,
			DeviceMAC:   e.DeviceMAC,
			State:       e.NewState,
			Unit:        unit,
			DeviceClass: class,
			Changed:     e.Changed,
			Time:        e.Time,
		})
	case events.AvailabilityChanged:
		if r, ok := sink.(coremetrics.AvailabilityRecorder); ok {
			return r.RecordAvailability(coremetrics.AvailabilityEvent{
				DeviceMAC: e.DeviceMAC,
				Online:    e.Online,
				Reason:    e.Reason,
				Time:      e.Time,
			})
		}
	case events.DiscoveryChanged:
		if r, ok := sink.(coremetrics.DiscoveryRecorder); ok {
			return r.RecordDiscovery(coremetrics.DiscoveryEvent{
				DeviceMAC:        e.DeviceMAC,
				Kind:             e.Kind,
				Action:           e.Action,
				EntityID:         e.EntityID,
				PreviousEntityID: e.PreviousEntityID,
				Time:             e.Time,
			})
		}
	}
	return nil
}
