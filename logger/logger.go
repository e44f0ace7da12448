package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/codeviz/config"
)

// ServiceName is attached to every log entry produced by NewFromConfig.
const ServiceName = "codeviz"

// Field keys shared by every component that logs about an execution
const (
	FieldService   = "service"
	FieldLanguage  = "language"
	FieldSandboxID = "sandbox_id"
	FieldContainer = "container"
)

// NewFromConfig builds the application logger from the logging section
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	zcfg, err := buildConfig(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zcfg.InitialFields = map[string]any{FieldService: ServiceName}
	return zcfg.Build()
}

// New creates a logger for mode ("production" or "development") at level
func New(mode, level string) (*zap.Logger, error) {
	zcfg, err := buildConfig(mode, level)
	if err != nil {
		return nil, err
	}
	return zcfg.Build()
}

// WithExecution scopes log to one execution in language
func WithExecution(log *zap.Logger, language string) *zap.Logger {
	return log.With(zap.String(FieldLanguage, language))
}

// WithSandbox scopes log to one sandbox and, once it exists, its container
func WithSandbox(log *zap.Logger, sandboxID, containerID string) *zap.Logger {
	if containerID == "" {
		return log.With(zap.String(FieldSandboxID, sandboxID))
	}
	return log.With(zap.String(FieldSandboxID, sandboxID), zap.String(FieldContainer, containerID))
}

func buildConfig(mode, level string) (zap.Config, error) {
	var zcfg zap.Config
	switch mode {
	case "development":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// durations are guard timeouts and run times
		zcfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg, nil
}
