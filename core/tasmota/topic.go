package tasmota

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the topic prefix Tasmota publishes discovery messages under.
const DefaultPrefix = "tasmota/discovery"

// Kind identifies the discovery message type carried by a topic.
type Kind string

const (
	KindConfig  Kind = "config"
	KindSensors Kind = "sensors"
)

// ConfigTopic returns the discovery topic carrying a device's config.
func ConfigTopic(prefix, mac string) string {
	return prefix + "/" + mac + "/" + string(KindConfig)
}

// SensorsTopic returns the discovery topic carrying a device's sensor layout.
func SensorsTopic(prefix, mac string) string {
	return prefix + "/" + mac + "/" + string(KindSensors)
}

// DiscoveryFilters returns the subscription filters covering every device.
func DiscoveryFilters(prefix string) []string {
	return []string{ConfigTopic(prefix, "+"), SensorsTopic(prefix, "+")}
}

// ParseDiscoveryTopic splits <prefix>/<mac>/<kind> into its mac and kind.
func ParseDiscoveryTopic(prefix, topic string) (string, Kind, error) {
	rest, ok := strings.CutPrefix(topic, strings.TrimSuffix(prefix, "/")+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	switch k := Kind(parts[1]); k {
	case KindConfig, KindSensors:
		return parts[0], k, nil
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, parts[1])
	}
}
