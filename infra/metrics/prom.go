package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/tasmota-bridge/core/events"
	coremetrics "github.com/kilianp07/tasmota-bridge/core/metrics"
)

// PromSink exposes sensor values, device availability and discovery activity
// as Prometheus metrics.
type PromSink struct {
	value     *prometheus.GaugeVec
	available *prometheus.GaugeVec
	discovery *prometheus.CounterVec
}

// NewPromSink registers the metrics on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on reg, reusing collectors that
// are already registered. A nil reg uses the default registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	value := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tasmota_sensor_value",
		Help: "Last numeric state of a Tasmota sensor entity",
	}, []string{"entity_id", "unit"})
	available := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tasmota_device_available",
		Help: "1 when the device reported online through its LWT",
	}, []string{"mac"})
	discovery := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasmota_discovery_events_total",
		Help: "Processed discovery messages by kind and outcome",
	}, []string{"kind", "action"})

	var err error
	if value, err = register(reg, value); err != nil {
		return nil, err
	}
	if available, err = register(reg, available); err != nil {
		return nil, err
	}
	if discovery, err = register(reg, discovery); err != nil {
		return nil, err
	}
	return &PromSink{value: value, available: available, discovery: discovery}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordState sets the value gauge for numeric states and clears it when
// the entity has no usable value. An entity keeps a single series, so a
// unit change replaces the previous one.
func (s *PromSink) RecordState(ev coremetrics.StateEvent) error {
	s.value.DeletePartialMatch(prometheus.Labels{"entity_id": ev.EntityID})
	v, err := strconv.ParseFloat(ev.State, 64)
	if err != nil {
		return nil
	}
	s.value.WithLabelValues(ev.EntityID, ev.Unit).Set(v)
	return nil
}

func (s *PromSink) RecordAvailability(ev coremetrics.AvailabilityEvent) error {
	v := 0.0
	if ev.Online {
		v = 1
	}
	s.available.WithLabelValues(ev.DeviceMAC).Set(v)
	return nil
}

// RecordDiscovery counts the event and drops series of removed entities and
// devices and of the old id of a renamed entity.
func (s *PromSink) RecordDiscovery(ev coremetrics.DiscoveryEvent) error {
	s.discovery.WithLabelValues(ev.Kind, ev.Action).Inc()
	if ev.Action == events.ActionRenamed && ev.PreviousEntityID != "" {
		s.value.DeletePartialMatch(prometheus.Labels{"entity_id": ev.PreviousEntityID})
		return nil
	}
	if ev.Action != events.ActionRemoved {
		return nil
	}
	if ev.EntityID != "" {
		s.value.DeletePartialMatch(prometheus.Labels{"entity_id": ev.EntityID})
	} else {
		s.available.DeleteLabelValues(ev.DeviceMAC)
	}
	return nil
}
