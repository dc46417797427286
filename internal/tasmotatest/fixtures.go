// Package tasmotatest holds discovery and telemetry payloads captured from
// Tasmota devices, shared by tests across packages.
package tasmotatest

import "encoding/json"

// MAC of the device described by DefaultConfig.
const MAC = "00000049A3BC"

// DefaultConfig is the config discovery payload of a Sonoff Basic running
// Tasmota 8.4 with the topic tasmota_49A3BC.
const DefaultConfig = `{
  "ip": "192.168.15.10",
  "dn": "Tasmota",
  "fn": ["Test", "Beer", "Wine", null, null, null, null, null],
  "hn": "tasmota_49A3BC-0956",
  "mac": "00000049A3BC",
  "md": "Sonoff Basic",
  "ofln": "Offline",
  "onln": "Online",
  "state": ["OFF", "ON", "TOGGLE", "HOLD"],
  "sw": "8.4.0.2",
  "t": "tasmota_49A3BC",
  "ft": "%topic%/%prefix%/",
  "tp": ["cmnd", "stat", "tele"],
  "rl": [0, 0, 0, 0, 0, 0, 0, 0],
  "so": {"11": 0, "13": 0, "17": 0, "20": 0, "30": 0, "68": 0, "73": 0, "82": 0},
  "ver": 1
}`

// DefaultSensorConfig announces a single DHT11 temperature sensor.
const DefaultSensorConfig = `{
  "sn": {
    "Time": "2020-09-25T12:47:15",
    "DHT11": {"Temperature": null},
    "TempUnit": "C"
  }
}`

// IndexedSensorConfig announces an energy meter with list valued tariffs.
const IndexedSensorConfig = `{
  "sn": {
    "Time": "2020-09-25T12:47:15",
    "ENERGY": {
      "TotalStartTime": "2018-11-23T15:33:47",
      "Total": 0.017,
      "TotalTariff": [0.000, 0.017],
      "Yesterday": 0.000,
      "Today": 0.002,
      "ExportActive": 0.000,
      "ExportTariff": [0.000, 0.000],
      "Period": 0.00,
      "Power": 0.00,
      "ApparentPower": 7.84,
      "ReactivePower": -7.21,
      "Factor": 0.39,
      "Frequency": 50.0,
      "Voltage": 234.31,
      "Current": 0.039,
      "ImportActive": 12.580,
      "ImportReactive": 0.002,
      "ExportReactive": 39.131,
      "PhaseAngle": 290.45
    }
  }
}`

// NestedSensorConfig announces a TX23 anemometer with nested objects.
const NestedSensorConfig = `{
  "sn": {
    "Time": "2020-03-03T00:00:00+00:00",
    "TX23": {
      "Speed": {"Act": 14.8, "Avg": 8.5, "Min": 12.2, "Max": 14.8},
      "Dir": {"Card": "WSW", "Deg": 247.5, "Avg": 266.1, "AvgCard": "W", "Range": 0}
    },
    "SpeedUnit": "km/h"
  }
}`

// AttributesSensorConfig announces a known and an icon-only quantity.
const AttributesSensorConfig = `{
  "sn": {
    "DHT11": {"Temperature": null},
    "Beer": {"CarbonDioxide": null},
    "TempUnit": "C"
  }
}`

// IndexedAttributesSensorConfig announces list valued known quantities.
const IndexedAttributesSensorConfig = `{
  "sn": {
    "Dummy1": {"Temperature": [null, null]},
    "Dummy2": {"CarbonDioxide": [null, null]},
    "TempUnit": "C"
  }
}`

// ConfigWith returns DefaultConfig with the given top level keys replaced.
func ConfigWith(overrides map[string]any) []byte {
	var cfg map[string]any
	if err := json.Unmarshal([]byte(DefaultConfig), &cfg); err != nil {
		panic(err)
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		panic(err)
	}
	return b
}
