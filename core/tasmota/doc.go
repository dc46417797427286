// Package tasmota implements the Tasmota firmware's MQTT discovery scheme:
// parsing of the retained config and sensors discovery payloads published
// under the discovery prefix, resolution of a device's full topic template
// into its telemetry, status, will and command topics, and decoding of
// tele/SENSOR and stat/STATUS8 telemetry into per-sensor values.
//
// The package is pure: it performs no I/O and holds no state, so the
// registry and the bridge can share it freely.
package tasmota
