// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Every component receives the *zap.Logger through fx
// and adds its own structured fields (sandbox_id, language, cause).
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("sandbox released", zap.String("sandbox_id", id))
package logger
