// Package logging provides structured logging for speki pipeline runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Every decomposition run logs through a child logger
// carrying the workspace, artifact and stage it belongs to, so a single
// debug.log can be filtered after the fact to reconstruct what one run did.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/.speki/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithWorkspace(ws).WithArtifact("billing-spec").WithStage("review")
//	runLogger.Info("review finished", "verdict", "PASS", "attempt", 2)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"review finished","workspace_id":"...","artifact_id":"billing-spec","stage":"review","verdict":"PASS","attempt":2}
//
// # Log Rotation
//
// Long-lived servers should use [NewLoggerWithRotation]. Rotated files are
// named debug.log.1, debug.log.2, etc., where .1 is the most recent backup.
//
// # Aggregation
//
// [AggregateLogs] and [FilterLogs] read debug.log back for the `speki logs`
// command.
package logging
