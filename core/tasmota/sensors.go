package tasmota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// SensorPath is the key path of one value inside a telemetry object, for
// example ["DHT11","Temperature"], ["TX23","Speed","Act"] or
// ["ENERGY","TotalTariff","1"].
type SensorPath []string

func (p SensorPath) String() string { return strings.Join(p, "/") }

// SensorDescriptor describes one sensor entity announced by a device.
type SensorDescriptor struct {
	MAC          string     `json:"mac"`
	Path         SensorPath `json:"path"`
	UniqueID     string     `json:"unique_id"`
	FriendlyName string     `json:"friendly_name"`
	ObjectID     string     `json:"object_id"`
	Unit         string     `json:"unit_of_measurement,omitempty"`
	DeviceClass  string     `json:"device_class,omitempty"`
	Icon         string     `json:"icon,omitempty"`
}

// Equal reports whether both descriptors announce the same entity with the
// same presentation.
func (d SensorDescriptor) Equal(o SensorDescriptor) bool {
	return d.MAC == o.MAC &&
		slices.Equal(d.Path, o.Path) &&
		d.UniqueID == o.UniqueID &&
		d.FriendlyName == o.FriendlyName &&
		d.ObjectID == o.ObjectID &&
		d.Unit == o.Unit &&
		d.DeviceClass == o.DeviceClass &&
		d.Icon == o.Icon
}

// NewSensorDescriptor builds the descriptor for path on device mac. units
// holds the device reported units (TempUnit, SpeedUnit, ...).
func NewSensorDescriptor(mac string, path SensorPath, units map[string]string) SensorDescriptor {
	name := strings.Join(path, " ")
	d := SensorDescriptor{
		MAC:          mac,
		Path:         path,
		UniqueID:     mac + "_sensor_sensor_" + strings.Join(path, "_"),
		FriendlyName: name,
		ObjectID:     Slugify(name),
	}
	describe(&d, units)
	return d
}

// ParseSensors decodes a sensors discovery payload into one descriptor per
// announced value, sorted by unique id. Empty payloads, "{}" and a missing
// or empty "sn" object all announce no sensors.
func ParseSensors(mac string, payload []byte) ([]SensorDescriptor, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	var msg struct {
		Sensors map[string]any `json:"sn"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	units := map[string]string{}
	for _, k := range []string{unitTemperature, unitSpeed, unitPressure} {
		if u, ok := msg.Sensors[k].(string); ok {
			units[k] = u
		}
	}

	var out []SensorDescriptor
	for _, sensor := range sortedKeys(msg.Sensors) {
		values, ok := msg.Sensors[sensor].(map[string]any)
		if !ok {
			continue
		}
		for _, q := range sortedKeys(values) {
			switch v := values[q].(type) {
			case []any:
				for i := range v {
					out = append(out, NewSensorDescriptor(mac, SensorPath{sensor, q, strconv.Itoa(i)}, units))
				}
			case map[string]any:
				for _, sub := range sortedKeys(v) {
					out = append(out, NewSensorDescriptor(mac, SensorPath{sensor, q, sub}, units))
				}
			default:
				out = append(out, NewSensorDescriptor(mac, SensorPath{sensor, q}, units))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out, nil
}

// Slugify lower-cases s and collapses every run of characters outside
// [a-z0-9] into a single underscore.
func Slugify(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
