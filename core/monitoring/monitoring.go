// Package monitoring routes unexpected errors to the configured error
// reporter. The default reporter discards everything.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation. A nil monitor restores the
// no-op default.
func Init(m Monitor) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}
