// Package telemetry provides OpenTelemetry instrumentation for coco.
//
// # Overview
//
// Pipeline runs emit spans for phase and task execution and counters for
// checkpoints, breaker trips, and HTTP traffic. Everything exports over
// OTLP to a collector, gRPC by default or HTTP/protobuf.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// New installs the providers as the otel globals, so instrumented packages
// use the usual scoped accessors:
//
//	tracer := otel.Tracer("coco.checkpoint")
//	meter := otel.Meter("coco.checkpoint")
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "coco"
//	  sampling:
//	    rate: 1.0  # 100% in dev, lower in prod
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// A missing or broken collector never fails a run. Exporter setup errors
// degrade the instance, Health reports the first cause, and instrumentation
// falls back to no-op providers.
//
// # Testing
//
// TestTelemetry wires in-memory exporters:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
