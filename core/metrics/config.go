package metrics

import "github.com/kilianp07/tasmota-bridge/core/factory"

// Config defines the metrics sinks and the Prometheus endpoint.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr enables the /metrics endpoint when set, e.g. ":9100".
	PrometheusAddr string `json:"prometheus_addr"`
}
