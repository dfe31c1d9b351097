package telemetry

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that logs, traces and counts nothing.
func Nop() *Telemetry {
	tracer, _ := NewTracer(TracingConfig{}, "insta", "dev")
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: &Metrics{},
		Config:  DefaultConfig(),
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Operation is one instrumented primitive invocation.
type Operation struct {
	Ctx       context.Context
	Span      trace.Span
	Logger    *Logger
	primitive string
	started   time.Time
	metrics   *Metrics
}

// StartOperation begins an instrumented primitive invocation using the
// telemetry found in ctx. Without telemetry in ctx the operation only keeps
// time.
func StartOperation(ctx context.Context, primitive, id string) *Operation {
	op := &Operation{
		Ctx:       ctx,
		Span:      trace.SpanFromContext(ctx),
		Logger:    FromContext(ctx),
		primitive: primitive,
		started:   time.Now(),
	}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return op
	}

	op.Ctx, op.Span = tel.Tracer.StartStepSpan(ctx, primitive, id)
	op.Logger = tel.Logger.WithField("primitive", primitive)
	if traceID := TraceID(op.Ctx); traceID != "" {
		op.Logger = op.Logger.WithField("trace_id", traceID)
	}
	op.metrics = tel.Metrics
	return op
}

// End finishes the operation. changed selects the recorded outcome when err
// is nil.
func (op *Operation) End(changed bool, err error) {
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeFailed
	case changed:
		outcome = OutcomeChanged
	}
	op.metrics.RecordOperation(op.primitive, outcome, time.Since(op.started))

	if op.metrics == nil {
		return
	}
	op.Span.SetAttributes(AttrChanged.Bool(changed))
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}
