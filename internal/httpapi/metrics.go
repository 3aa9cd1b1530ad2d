package httpapi

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/coco/internal/httpapi"

// HTTPMetrics records request counts, latency, response sizes, and in-flight
// requests on the global meter provider.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instrument set. Instrument creation failures
// log and leave the instrument nil; recording skips nil instruments.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	ctx := context.Background()
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"coco.http.requests_total",
		metric.WithDescription("Total HTTP requests by method, endpoint, and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"coco.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds by method, endpoint, and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"coco.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes by method, endpoint, and status"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"coco.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}
}

// Middleware returns an echo middleware recording the instrument set. The
// endpoint label uses the route pattern, not the raw URI, so cardinality
// stays bounded.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			attrs := []attribute.KeyValue{
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routePattern(c)),
				attribute.Int("status", c.Response().Status),
			}
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, metric.WithAttributes(attrs...))
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return err
		}
	}
}

func routePattern(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "/"
}
