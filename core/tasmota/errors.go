package tasmota

import "errors"

var (
	// ErrInvalidTopic is returned for topics outside the discovery scheme.
	ErrInvalidTopic = errors.New("invalid discovery topic")
	// ErrInvalidPayload is returned for malformed discovery or telemetry payloads.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrMACMismatch is returned when a config payload was published under
	// another device's discovery topic.
	ErrMACMismatch = errors.New("mac in payload does not match topic")
)
