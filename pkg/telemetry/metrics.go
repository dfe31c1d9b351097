package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by every primitive.
const (
	OutcomeOK      = "ok"
	OutcomeChanged = "changed"
	OutcomeFailed  = "failed"
)

// Metrics provides Prometheus metrics for patch operations and the other
// converge primitives. A nil *Metrics, or one built with metrics disabled,
// records nothing.
type Metrics struct {
	config MetricsConfig

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	hunksApplied      *prometheus.CounterVec
	remotePushes      *prometheus.CounterVec
	errorsByClass     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of primitive operations by outcome",
			},
			[]string{"primitive", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of primitive operations in seconds",
				Buckets:   buckets,
			},
			[]string{"primitive"},
		),
		hunksApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hunks_applied_total",
				Help:      "Total number of hunks evaluated by outcome",
			},
			[]string{"outcome"},
		),
		remotePushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_pushes_total",
				Help:      "Total number of remote document pushes by status",
			},
			[]string{"status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed operations by error class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.hunksApplied,
		m.remotePushes,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordOperation records one primitive invocation.
func (m *Metrics) RecordOperation(primitive, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(primitive, outcome).Inc()
	m.operationDuration.WithLabelValues(primitive).Observe(duration.Seconds())
}

// RecordHunk records the outcome of one hunk.
func (m *Metrics) RecordHunk(outcome string) {
	if !m.enabled() {
		return
	}
	m.hunksApplied.WithLabelValues(outcome).Inc()
}

// RecordPush records one remote push attempt.
func (m *Metrics) RecordPush(succeeded bool) {
	if !m.enabled() {
		return
	}
	status := "succeeded"
	if !succeeded {
		status = "failed"
	}
	m.remotePushes.WithLabelValues(status).Inc()
}

// RecordError records a failure by class and code.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class, code).Inc()
}

// Registry returns the registry metrics are registered in, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint on the configured address
// until ctx is done. It returns the bound address, which differs from the
// configured one when the port is 0. Nothing is served when metrics are
// disabled or no address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) (string, error) {
	if !m.enabled() || m.config.ListenAddress == "" {
		return "", nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	listener, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", err
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			FromContext(ctx).WithError(err).Error("metrics server stopped")
		}
	}()

	return listener.Addr().String(), nil
}
