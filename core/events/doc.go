// Package events defines the events published on the bridge's event bus.
// Consumers (metrics sinks, the history recorder and the MQTT state
// publisher) switch on the concrete type.
package events
