// Package telemetry initializes Sentry error reporting for opusrec.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
)

// FlushTimeout bounds the final event flush on exit
const FlushTimeout = 2 * time.Second

var (
	initMu      sync.Mutex
	initialized bool
)

// InitSentry configures the Sentry client and installs the error reporter.
// It is a no-op when reporting is disabled.
func InitSentry(settings *conf.SentrySettings, version string) error {
	return initSentry(settings, version, nil)
}

func initSentry(settings *conf.SentrySettings, version string, transport sentry.Transport) error {
	if settings == nil || !settings.Enabled {
		return nil
	}

	initMu.Lock()
	defer initMu.Unlock()

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          fmt.Sprintf("opusrec@%s", version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
		Transport: transport,
	})
	if err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true

	logger.Global().Module("telemetry").Info("error reporting enabled",
		logger.String("environment", settings.Environment))
	return nil
}

// Flush waits for queued events. Safe to call when Sentry is disabled.
func Flush(timeout time.Duration) {
	initMu.Lock()
	ok := initialized
	initMu.Unlock()
	if ok {
		sentry.Flush(timeout)
	}
}

// applyPrivacyFilters strips host identity from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
