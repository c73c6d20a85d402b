package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used for pipeline spans.
const InstrumentationName = "github.com/fyrsmithlabs/nocbroker/internal/orchestrator"

// Telemetry owns the tracer provider for one broker process.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider

	degraded atomic.Bool
	reason   atomic.Value // string
}

// New creates a Telemetry instance.
//
// A disabled config yields an instance whose tracers are no-ops. Exporter
// failures mark the instance degraded instead of returning an error; only an
// invalid config is an error.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	tp, err := newTracerProvider(ctx, cfg, newResource(cfg))
	if err != nil {
		t.setDegraded(err)
		return t, nil
	}
	t.tracerProvider = tp
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope. It is a no-op
// tracer when telemetry is disabled or degraded.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Shutdown flushes pending spans and stops the exporter. Without a deadline
// on ctx the configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.tracerProvider == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}

	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("trace provider shutdown: %w", err)
	}
	return nil
}

// Enabled reports whether spans are being exported.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tracerProvider != nil
}

// Degraded reports whether setup failed, and why.
func (t *Telemetry) Degraded() (bool, string) {
	if t == nil || !t.degraded.Load() {
		return false, ""
	}
	reason, _ := t.reason.Load().(string)
	return true, reason
}

func (t *Telemetry) setDegraded(err error) {
	t.reason.Store(err.Error())
	t.degraded.Store(true)
}
