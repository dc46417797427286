package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink is called even when
// an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordState(ev StateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordState(ev))
	}
	return errors.Join(errs...)
}

// RecordAvailability forwards to sinks implementing AvailabilityRecorder.
func (m *MultiSink) RecordAvailability(ev AvailabilityEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(AvailabilityRecorder); ok {
			errs = append(errs, rec.RecordAvailability(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordDiscovery forwards to sinks implementing DiscoveryRecorder.
func (m *MultiSink) RecordDiscovery(ev DiscoveryEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(DiscoveryRecorder); ok {
			errs = append(errs, rec.RecordDiscovery(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks that hold connections.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
