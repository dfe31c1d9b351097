// Package telemetry provides logging, tracing and metrics for insta.
//
// Logging is built on zerolog. Every component gets a child logger tagged
// with its name:
//
//	logger, _ := telemetry.NewLogger(cfg.Logging)
//	engineLog := logger.NewComponentLogger("engine")
//
// Tracing uses OpenTelemetry with otlp, stdout or no exporter. A run gets a
// span and every primitive invocation inside it gets a child span:
//
//	ctx, span := tracer.StartRunSpan(ctx, runID, "site.yaml")
//	defer span.End()
//
// Metrics are Prometheus collectors in a private registry. All Record
// methods are safe on a nil or disabled *Metrics.
//
//	insta_operations_total{primitive,outcome}
//	insta_operation_duration_seconds{primitive}
//	insta_hunks_applied_total{outcome}
//	insta_remote_pushes_total{status}
//	insta_errors_total{class,code}
//
// StartOperation ties the three together for a single primitive call:
//
//	op := telemetry.StartOperation(ctx, "patch", "motd")
//	res, err := patcher.Patch(op.Ctx, desc, hunks...)
//	op.End(res != nil && res.Changed, err)
package telemetry
