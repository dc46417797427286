// Package infra holds the adapters behind the core interfaces: the Paho
// MQTT client, metrics sinks, history stores, the state republisher and
// Sentry reporting.
package infra
