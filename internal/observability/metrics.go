// Package observability provides metrics and monitoring capabilities for opusrec.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Recording *metrics.RecordingMetrics
}

// NewMetrics creates a new instance of Metrics with its own registry,
// including the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	recordingMetrics, err := metrics.NewRecordingMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Recording: recordingMetrics,
	}, nil
}

// Registry returns the Prometheus registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{log: logger.Global().Module("metrics")},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promErrorLogger adapts the module logger to promhttp.Logger
type promErrorLogger struct {
	log logger.Logger
}

func (l promErrorLogger) Println(v ...any) {
	l.log.Error("metrics handler error", logger.String("error", fmt.Sprint(v...)))
}
