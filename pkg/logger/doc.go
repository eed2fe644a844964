// Package logger provides the structured logging interface used across mediafetch.
//
// It wraps zerolog and exposes:
//   - leveled logging (Debug, Info, Warn, Error)
//   - field-scoped child loggers (WithField, WithFields, WithError)
//   - console output with short timestamps, or console plus a log file
//   - a process-wide logger for components that are not handed one
//
// Usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("collection", title)
//	log.InfoWithFields("Collection finished", map[string]interface{}{
//	    "completed": summary.Completed,
//	    "failed":    summary.Failed,
//	})
//
// Tests can pass a TestLogger to any component and assert on the captured
// messages instead of parsing console output.
package logger
