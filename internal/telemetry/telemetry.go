package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the OTLP trace and metric pipelines for a coco process.
//
// A pipeline run never fails because a collector is down: exporter setup
// errors mark the instance degraded and instrumentation falls back to
// no-op providers.
type Telemetry struct {
	config *Config

	traces  *trace.TracerProvider
	metrics *sdkmetric.MeterProvider
	logs    log.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
	reason   atomic.Value // string, first degradation cause
}

// sdk is the lifecycle surface shared by the trace and metric providers.
type sdk interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// New validates cfg and brings up the configured exporters.
//
// With telemetry disabled it returns a working no-op instance, so callers
// can wire spans and counters unconditionally.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.healthy.Store(true)

	if cfg.Enabled {
		t.connect(ctx)
	}
	return t, nil
}

// connect builds the providers and installs them as the process globals.
// Each signal degrades independently; a broken metric endpoint still
// leaves traces flowing.
func (t *Telemetry) connect(ctx context.Context) {
	res, err := newResource(t.config)
	if err != nil {
		t.degrade(fmt.Errorf("build resource: %w", err))
		return
	}

	if tp, err := newTracerProvider(ctx, t.config, res); err != nil {
		t.degrade(fmt.Errorf("trace pipeline: %w", err))
	} else {
		t.traces = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, t.config, res); err != nil {
		t.degrade(fmt.Errorf("metric pipeline: %w", err))
	} else if mp != nil {
		t.metrics = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Tracer returns a tracer for the given instrumentation scope.
// Falls back to the global (no-op) provider when disabled or degraded.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.traces == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.traces.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
// Falls back to the global (no-op) provider when disabled or degraded.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.metrics == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.metrics.Meter(name, opts...)
}

// LoggerProvider returns the provider for the zap log bridge, or nil when
// no log pipeline is attached. The logging package treats nil as
// console-only output.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logs
}

// SetLoggerProvider attaches a log pipeline for the zap bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logs = lp
	}
}

// Shutdown flushes and stops all providers. Safe to call on a nil or
// disabled instance. When ctx carries no deadline the configured shutdown
// timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout)
		defer cancel()
	}

	var errs []error
	for _, s := range t.sdks() {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider shutdown: %w", err))
		}
	}

	t.healthy.Store(false)
	return errors.Join(errs...)
}

// ForceFlush exports all buffered spans and metrics immediately. Used
// before the process reports a pipeline verdict and exits.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error
	for _, s := range t.sdks() {
		if err := s.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) sdks() []sdk {
	var out []sdk
	if t.traces != nil {
		out = append(out, t.traces)
	}
	if t.metrics != nil {
		out = append(out, t.metrics)
	}
	return out
}

// HealthStatus reports whether the exporters came up and stayed up.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Reason   string
}

// Health returns the current telemetry health.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true, Reason: "telemetry not initialized"}
	}
	hs := HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
	if r, ok := t.reason.Load().(string); ok {
		hs.Reason = r
	}
	return hs
}

// IsEnabled reports whether telemetry is configured on and still healthy.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.healthy.Load()
}

// degrade records the first failure cause and flags the instance.
// Later instrumentation calls silently hit the no-op fallbacks.
func (t *Telemetry) degrade(err error) {
	t.degraded.Store(true)
	t.reason.CompareAndSwap(nil, err.Error())
}
