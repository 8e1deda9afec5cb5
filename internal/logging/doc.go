// Package logging provides structured logging for relay.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. A turn fans out to many concurrently running workers,
// so every log line carries the thread, turn and worker it belongs to and
// can be filtered after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying handler.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/relay", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("server listening", "addr", ":8080")
//
// # Context Propagation
//
//	turnLogger := logger.WithThread("th_ab12cd34ef").WithTurn("turn-1")
//	workerLogger := turnLogger.WithWorker("math")
//	workerLogger.Warn("invocation failed", "task_id", "t1", "attempt", 2)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"invocation failed","thread_id":"th_ab12cd34ef","turn_id":"turn-1","worker":"math","task_id":"t1","attempt":2}
//
// # Log Levels
//
//   - DEBUG: stream publish traces, barrier evaluations
//   - INFO: turn lifecycle (started, dispatched, completed)
//   - WARN: recovered failures (worker errors, fallback answers, tier fallbacks)
//   - ERROR: failures that end a turn
//
// # Rotation
//
// [NewRotatingLogger] rotates relay.log by size into relay.log.1,
// relay.log.2 and so on, optionally gzipping rotated files.
//
// Use [NopLogger] in tests or wherever logging is disabled.
package logging
