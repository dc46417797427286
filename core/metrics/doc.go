// Package metrics defines the recorder interfaces for sensor observability.
// Sinks record entity state writes, device availability and discovery
// activity; NewMetricsSink builds them from configuration and combines
// several sinks into a MultiSink.
package metrics
