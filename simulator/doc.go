// Package simulator emulates Tasmota devices on an MQTT broker. A simulated
// device publishes its discovery messages and availability, sends periodic
// telemetry and answers STATUS 8 polls, which is enough to drive the bridge
// without hardware.
package simulator
