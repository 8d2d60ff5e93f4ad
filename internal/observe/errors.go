package observe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryEnabled is set once [InitSentry] succeeded. Reporting is a no-op
// until then.
var sentryEnabled atomic.Bool

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry initialises the Sentry client. An empty DSN leaves reporting
// disabled and returns a no-op flush. The returned function flushes buffered
// events and should be deferred from main.
func InitSentry(cfg SentryConfig) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return func() {}, err
	}
	sentryEnabled.Store(true)
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ReportError sends err to Sentry tagged with the given key/value pairs plus
// the call and trace IDs from ctx. It is a no-op when err is nil or Sentry is not
// initialised.
func ReportError(ctx context.Context, err error, tags map[string]string) {
	if err == nil || !sentryEnabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if id := CallID(ctx); id != "" {
			scope.SetTag(AttrCallID, id)
		}
		if id := TraceID(ctx); id != "" {
			scope.SetTag("trace_id", id)
		}
		sentry.CaptureException(err)
	})
}
