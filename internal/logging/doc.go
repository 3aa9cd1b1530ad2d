// Package logging provides structured logging for coco.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, run, phase, task)
//
// # Usage
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithRunID(ctx, runID)
//	ctx = logging.WithPhase(ctx, "orchestrate")
//	logger.Info(ctx, "phase started", zap.String("executor", name))
//
// Fields attached to the context (run ID, phase, task ID) and the active
// OpenTelemetry span are appended to every entry automatically, so log lines
// from deep inside the convergence loop correlate with traces and with the
// run that produced them.
package logging
