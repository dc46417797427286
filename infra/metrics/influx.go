package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/tasmota-bridge/core/metrics"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
)

// InfluxConfig holds the InfluxDB connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes sensor events to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint. A trailing
// /api/v2/write is accepted and stripped.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance and returns a NopSink when
// the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordState writes a sensor_state point. Numeric states go to the value
// field, anything else to the state field.
func (s *InfluxSink) RecordState(ev coremetrics.StateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sensor_state").
		AddTag("entity_id", ev.EntityID).
		AddTag("device_mac", ev.DeviceMAC)
	if ev.Unit != "" {
		p = p.AddTag("unit", ev.Unit)
	}
	if ev.DeviceClass != "" {
		p = p.AddTag("device_class", ev.DeviceClass)
	}
	if v, err := strconv.ParseFloat(ev.State, 64); err == nil {
		p = p.AddField("value", v)
	} else {
		p = p.AddField("state", ev.State)
	}
	p = p.SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordAvailability(ev coremetrics.AvailabilityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("device_availability").
		AddTag("mac", ev.DeviceMAC).
		AddTag("reason", ev.Reason).
		AddField("online", ev.Online).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordDiscovery(ev coremetrics.DiscoveryEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("discovery_event").
		AddTag("mac", ev.DeviceMAC).
		AddTag("kind", ev.Kind).
		AddTag("action", ev.Action).
		AddField("entity_id", ev.EntityID).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }
