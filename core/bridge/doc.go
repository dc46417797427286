// Package bridge coordinates the Tasmota sensor platform: it listens on the
// discovery topics, keeps the registry in sync with what devices announce,
// subscribes to each device's telemetry, status and will topics, and turns
// inbound messages into entity state changes published on the event bus.
//
// Message handlers are serialized by a single mutex, so the transport may
// deliver messages concurrently.
package bridge
