package tasmota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Readings is a decoded telemetry object.
type Readings struct {
	data map[string]any
}

// ParseReadings decodes a tele/SENSOR payload.
func ParseReadings(payload []byte) (Readings, error) {
	data, err := decodeObject(payload)
	if err != nil {
		return Readings{}, err
	}
	return Readings{data: data}, nil
}

// ParseStatusReadings decodes a stat/STATUS8 payload, whose readings are
// wrapped in a StatusSNS object.
func ParseStatusReadings(payload []byte) (Readings, error) {
	data, err := decodeObject(payload)
	if err != nil {
		return Readings{}, err
	}
	sns, ok := data["StatusSNS"].(map[string]any)
	if !ok {
		return Readings{}, fmt.Errorf("%w: missing StatusSNS", ErrInvalidPayload)
	}
	return Readings{data: sns}, nil
}

func decodeObject(payload []byte) (map[string]any, error) {
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}
	return data, nil
}

// Lookup returns the value at path as text. Numbers keep the literal text
// the device sent. Null, missing and non-scalar values are not present.
func (r Readings) Lookup(path SensorPath) (string, bool) {
	var cur any = r.data
	for _, key := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return "", false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return "", false
			}
			cur = v[idx]
		default:
			return "", false
		}
	}
	switch v := cur.(type) {
	case json.Number:
		return v.String(), true
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}
