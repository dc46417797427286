package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/tasmota-bridge/config"
	coremon "github.com/kilianp07/tasmota-bridge/core/monitoring"
)

// ServiceTag is attached to every reported event.
const ServiceTag = "tasmota-bridge"

// beforeSend is replaced in tests to observe outgoing events.
var beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event

// NewSentryMonitor initializes Sentry and returns a Monitor. Without a DSN
// the NopMonitor is returned.
func NewSentryMonitor(cfg config.SentryConfig) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		AttachStacktrace: true,
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return nil, err
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("service", ServiceTag)
	})
	return &sentryMonitor{}, nil
}

type sentryMonitor struct{}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
