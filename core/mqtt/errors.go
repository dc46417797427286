package mqtt

import "errors"

// ErrNotConnected is returned when an operation needs a live broker connection.
var ErrNotConnected = errors.New("mqtt client not connected")
