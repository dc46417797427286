package simulator

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

var fleetRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// FleetConfig holds parameters for bulk device generation.
type FleetConfig struct {
	Size int
	// Models restricts generation to these model names. Empty means all.
	Models   []string
	TempUnit string
}

type model struct {
	name    string
	sensors []Sensor
}

var models = map[string]model{
	"th": {name: "Sonoff TH", sensors: []Sensor{{Name: "DHT11", Quantities: []Quantity{
		{Name: "Temperature", Value: 21, Step: 0.2, Min: 10, Max: 35, Decimals: 1},
		{Name: "Humidity", Value: 45, Step: 0.5, Min: 20, Max: 90, Decimals: 1},
	}}}},
	"co2": {name: "SCD30 Air", sensors: []Sensor{{Name: "SCD30", Quantities: []Quantity{
		{Name: "CarbonDioxide", Value: 600, Step: 15, Min: 400, Max: 2500, Decimals: 0},
		{Name: "Temperature", Value: 22, Step: 0.1, Min: 15, Max: 30, Decimals: 1},
		{Name: "Humidity", Value: 40, Step: 0.5, Min: 20, Max: 80, Decimals: 1},
	}}}},
	"energy": {name: "Sonoff Pow R2", sensors: []Sensor{{Name: "ENERGY", Quantities: []Quantity{
		{Name: "Power", Value: 60, Step: 10, Min: 0, Max: 2300, Decimals: 0},
		{Name: "Voltage", Value: 230, Step: 1, Min: 215, Max: 245, Decimals: 0},
		{Name: "Current", Value: 0.26, Step: 0.04, Min: 0, Max: 10, Decimals: 3},
		{Name: "Factor", Value: 0.9, Step: 0.01, Min: 0, Max: 1, Decimals: 2},
	}}}},
}

// Models returns the names accepted in FleetConfig.Models.
func Models() []string {
	out := make([]string, 0, len(models))
	for k := range models {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GenerateFleet creates Size devices with MACs DEADBE000001..DEADBENNNNNN,
// cycling through the selected models.
func GenerateFleet(cfg FleetConfig) ([]*Device, error) {
	if cfg.Size <= 0 {
		return nil, nil
	}
	names := cfg.Models
	if len(names) == 0 {
		names = Models()
	}
	for _, n := range names {
		if _, ok := models[n]; !ok {
			return nil, fmt.Errorf("unknown model %q", n)
		}
	}
	unit := cfg.TempUnit
	if unit == "" {
		unit = "C"
	}
	devs := make([]*Device, cfg.Size)
	for i := range devs {
		m := models[names[i%len(names)]]
		mac := fmt.Sprintf("DEADBE%06X", i+1)
		devs[i] = &Device{
			MAC:      mac,
			Topic:    "tasmota_" + mac[6:],
			Name:     fmt.Sprintf("%s %d", m.name, i+1),
			Model:    m.name,
			TempUnit: unit,
			Sensors:  cloneSensors(m.sensors),
			rng:      rand.New(rand.NewSource(fleetRng.Int63())),
		}
	}
	return devs, nil
}

func cloneSensors(in []Sensor) []Sensor {
	out := make([]Sensor, len(in))
	for i, s := range in {
		out[i] = Sensor{Name: s.Name, Quantities: append([]Quantity(nil), s.Quantities...)}
	}
	return out
}
