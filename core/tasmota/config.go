package tasmota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Indexes into DeviceConfig.Prefixes.
const (
	PrefixCommand = iota
	PrefixStat
	PrefixTele
)

const (
	DefaultOnlinePayload  = "Online"
	DefaultOfflinePayload = "Offline"
	// PollPayload is the STATUS argument requesting sensor readings.
	PollPayload = "8"
)

// DeviceConfig is the config discovery payload published by a device.
type DeviceConfig struct {
	IP             string         `json:"ip"`
	DeviceName     string         `json:"dn"`
	FriendlyNames  []*string      `json:"fn"`
	Hostname       string         `json:"hn"`
	MAC            string         `json:"mac"`
	Model          string         `json:"md"`
	OfflinePayload string         `json:"ofln"`
	OnlinePayload  string         `json:"onln"`
	State          []string       `json:"state"`
	SWVersion      string         `json:"sw"`
	Topic          string         `json:"t"`
	FullTopic      string         `json:"ft"`
	Prefixes       []string       `json:"tp"`
	Relays         []int          `json:"rl"`
	SetOptions     map[string]int `json:"so"`
	Version        int            `json:"ver"`
}

// ParseDeviceConfig decodes a config payload received for mac. An empty
// payload is a removal and yields a nil config.
func ParseDeviceConfig(mac string, payload []byte) (*DeviceConfig, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	var cfg DeviceConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !strings.EqualFold(cfg.MAC, mac) {
		return nil, fmt.Errorf("%w: topic %s, payload %s", ErrMACMismatch, mac, cfg.MAC)
	}
	if cfg.Topic == "" || cfg.FullTopic == "" {
		return nil, fmt.Errorf("%w: topic and full topic are required", ErrInvalidPayload)
	}
	if len(cfg.Prefixes) != 3 {
		return nil, fmt.Errorf("%w: expected 3 prefixes, got %d", ErrInvalidPayload, len(cfg.Prefixes))
	}
	return &cfg, nil
}

// Equal reports whether two configs are identical.
func (c *DeviceConfig) Equal(o *DeviceConfig) bool {
	return reflect.DeepEqual(c, o)
}

// Name returns the device name shown to users.
func (c *DeviceConfig) Name() string {
	if c.DeviceName != "" {
		return c.DeviceName
	}
	if len(c.FriendlyNames) > 0 && c.FriendlyNames[0] != nil {
		return *c.FriendlyNames[0]
	}
	return c.Topic
}

// PrefixTopic resolves the full topic template for one of the three prefixes.
// The result always ends with a slash.
func (c *DeviceConfig) PrefixTopic(prefix int) string {
	t := c.FullTopic
	t = strings.ReplaceAll(t, "%hostname%", c.Hostname)
	t = strings.ReplaceAll(t, "%id%", c.shortID())
	t = strings.ReplaceAll(t, "%prefix%", c.Prefixes[prefix])
	t = strings.ReplaceAll(t, "%topic%", c.Topic)
	t = strings.ReplaceAll(t, "#", "")
	t = strings.ReplaceAll(t, "//", "/")
	if !strings.HasSuffix(t, "/") {
		t += "/"
	}
	return t
}

func (c *DeviceConfig) shortID() string {
	if len(c.MAC) <= 6 {
		return c.MAC
	}
	return c.MAC[len(c.MAC)-6:]
}

// TeleSensorTopic carries periodic sensor telemetry.
func (c *DeviceConfig) TeleSensorTopic() string { return c.PrefixTopic(PrefixTele) + "SENSOR" }

// WillTopic carries the device's online/offline last will.
func (c *DeviceConfig) WillTopic() string { return c.PrefixTopic(PrefixTele) + "LWT" }

// StatusTopic carries the response to a STATUS <n> command.
func (c *DeviceConfig) StatusTopic(n int) string {
	return c.PrefixTopic(PrefixStat) + "STATUS" + strconv.Itoa(n)
}

// PollTopic is the command topic used to request a status report.
func (c *DeviceConfig) PollTopic() string { return c.PrefixTopic(PrefixCommand) + "STATUS" }

// SensorTopics lists the topics a sensor platform listens on for this device.
func (c *DeviceConfig) SensorTopics() []string {
	return []string{c.TeleSensorTopic(), c.StatusTopic(8), c.WillTopic()}
}

// AvailabilityState is the decoded value of a will payload.
type AvailabilityState int

const (
	AvailabilityUnknown AvailabilityState = iota
	AvailabilityOnline
	AvailabilityOffline
)

func (a AvailabilityState) String() string {
	switch a {
	case AvailabilityOnline:
		return "online"
	case AvailabilityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Availability classifies a will payload using the device's configured
// online and offline strings.
func (c *DeviceConfig) Availability(payload []byte) AvailabilityState {
	online, offline := c.OnlinePayload, c.OfflinePayload
	if online == "" {
		online = DefaultOnlinePayload
	}
	if offline == "" {
		offline = DefaultOfflinePayload
	}
	switch string(payload) {
	case online:
		return AvailabilityOnline
	case offline:
		return AvailabilityOffline
	default:
		return AvailabilityUnknown
	}
}
