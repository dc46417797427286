package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/tasmota-bridge/core/logger"
	coremqtt "github.com/kilianp07/tasmota-bridge/core/mqtt"
	"github.com/kilianp07/tasmota-bridge/core/tasmota"
)

// Quantity is one simulated reading. Values follow a bounded random walk.
type Quantity struct {
	Name     string
	Value    float64
	Step     float64
	Min      float64
	Max      float64
	Decimals int
}

// Sensor groups quantities under a sensor name such as DHT11.
type Sensor struct {
	Name       string
	Quantities []Quantity
}

// Device is a simulated Tasmota device.
type Device struct {
	MAC      string
	Topic    string
	Name     string
	Model    string
	TempUnit string
	Sensors  []Sensor

	mu  sync.Mutex
	rng *rand.Rand
}

// Config returns the config discovery payload of the device.
func (d *Device) Config() *tasmota.DeviceConfig {
	name := d.Name
	return &tasmota.DeviceConfig{
		IP:             "127.0.0.1",
		DeviceName:     d.Name,
		FriendlyNames:  []*string{&name},
		Hostname:       d.Topic + "-sim",
		MAC:            d.MAC,
		Model:          d.Model,
		OfflinePayload: tasmota.DefaultOfflinePayload,
		OnlinePayload:  tasmota.DefaultOnlinePayload,
		State:          []string{"OFF", "ON", "TOGGLE", "HOLD"},
		SWVersion:      "9.1.0",
		Topic:          d.Topic,
		FullTopic:      "%prefix%/%topic%/",
		Prefixes:       []string{"cmnd", "stat", "tele"},
		Relays:         []int{0, 0, 0, 0, 0, 0, 0, 0},
		SetOptions:     map[string]int{"4": 0, "11": 0, "13": 0, "17": 0, "20": 0, "30": 0, "68": 0, "73": 0, "82": 0, "114": 0},
		Version:        1,
	}
}

// readings renders the current values keyed by sensor name, with the unit
// fields Tasmota adds at the top level.
func (d *Device) readings(now time.Time) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]any{"Time": now.UTC().Format("2006-01-02T15:04:05")}
	for _, s := range d.Sensors {
		vals := make(map[string]any, len(s.Quantities))
		for _, q := range s.Quantities {
			vals[q.Name] = json.Number(strconv.FormatFloat(q.Value, 'f', q.Decimals, 64))
		}
		out[s.Name] = vals
	}
	if d.TempUnit != "" {
		out["TempUnit"] = d.TempUnit
	}
	return out
}

// SensorsPayload returns the sensors discovery payload.
func (d *Device) SensorsPayload(now time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{"sn": d.readings(now)})
}

// TelemetryPayload returns a tele/SENSOR payload.
func (d *Device) TelemetryPayload(now time.Time) ([]byte, error) {
	return json.Marshal(d.readings(now))
}

// StatusPayload returns the stat/STATUS8 reply.
func (d *Device) StatusPayload(now time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{"StatusSNS": d.readings(now)})
}

// Step advances every quantity by one random walk step.
func (d *Device) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	for i := range d.Sensors {
		for j := range d.Sensors[i].Quantities {
			q := &d.Sensors[i].Quantities[j]
			q.Value = math.Min(q.Max, math.Max(q.Min, q.Value+d.rng.NormFloat64()*q.Step))
		}
	}
}

// Announce publishes the retained discovery messages and the online
// availability.
func (d *Device) Announce(cli coremqtt.Client, prefix string) error {
	cfg := d.Config()
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := cli.Publish(tasmota.ConfigTopic(prefix, d.MAC), 1, true, payload); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}
	sensors, err := d.SensorsPayload(time.Now())
	if err != nil {
		return err
	}
	if err := cli.Publish(tasmota.SensorsTopic(prefix, d.MAC), 1, true, sensors); err != nil {
		return fmt.Errorf("publish sensors: %w", err)
	}
	return cli.Publish(cfg.WillTopic(), 1, true, []byte(cfg.OnlinePayload))
}

// Remove clears the retained discovery messages, which removes the device
// from the bridge.
func (d *Device) Remove(cli coremqtt.Client, prefix string) error {
	if err := cli.Publish(tasmota.ConfigTopic(prefix, d.MAC), 1, true, nil); err != nil {
		return err
	}
	return cli.Publish(tasmota.SensorsTopic(prefix, d.MAC), 1, true, nil)
}

// Run announces the device, answers polls and publishes telemetry every
// interval until ctx is canceled. The device then goes offline.
func (d *Device) Run(ctx context.Context, cli coremqtt.Client, prefix string, interval time.Duration, log logger.Logger) error {
	cfg := d.Config()
	poll := cfg.PollTopic()
	if err := cli.Subscribe(poll, 0, d.pollHandler(cli, cfg, log)); err != nil {
		return fmt.Errorf("subscribe %s: %w", poll, err)
	}
	if err := d.Announce(cli, prefix); err != nil {
		return err
	}
	log.Infof("simulated device %s online on %s", d.MAC, d.Topic)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := cli.Unsubscribe(poll); err != nil {
				log.Warnf("unsubscribe %s: %v", poll, err)
			}
			return cli.Publish(cfg.WillTopic(), 1, true, []byte(cfg.OfflinePayload))
		case now := <-ticker.C:
			d.Step()
			payload, err := d.TelemetryPayload(now)
			if err != nil {
				return err
			}
			if err := cli.Publish(cfg.TeleSensorTopic(), 0, false, payload); err != nil {
				log.Warnf("%s: publish telemetry: %v", d.MAC, err)
			}
		}
	}
}

func (d *Device) pollHandler(cli coremqtt.Client, cfg *tasmota.DeviceConfig, log logger.Logger) coremqtt.MessageHandler {
	return func(_ string, payload []byte) {
		if strings.TrimSpace(string(payload)) != tasmota.PollPayload {
			return
		}
		status, err := d.StatusPayload(time.Now())
		if err != nil {
			log.Errorf("%s: status payload: %v", d.MAC, err)
			return
		}
		if err := cli.Publish(cfg.StatusTopic(8), 0, false, status); err != nil {
			log.Warnf("%s: publish status: %v", d.MAC, err)
		}
	}
}
