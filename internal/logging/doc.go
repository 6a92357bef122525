// Package logging provides structured logging for zapbuild sessions.
//
// It wraps log/slog with a JSON handler and carries persistent context
// attributes (session, component, step) on child loggers so that a single
// build can be followed through the parser, driver and runtime adapters.
//
// # Usage
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithSession(id).WithComponent("driver")
//	log.Info("script exited", "exit_code", 0)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"script exited","session_id":"...","component":"driver","exit_code":0}
//
// When logging is disabled, callers use [NopLogger] so that no component has
// to nil-check its logger.
//
// # Rotation
//
// [RotatingWriter] rolls zapbuild.log over to zapbuild.log.1 .. zapbuild.log.N
// once it exceeds the configured size, optionally gzip compressing the
// rolled files.
//
// # Reading logs back
//
// [ReadLogFile] parses the JSON lines of a log file into [LogEntry] values
// and applies a [LogFilter]; [ExportLogEntries] writes them out as JSON,
// text or CSV.
package logging
