package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sofia-platform/billing/internal/infrastructure/config"
)

var Logger = zap.NewNop()

var sentryEnabled bool

// Init initializes the global logger
func Init(cfg *config.SentryConfig) error {
	var zapConfig zap.Config

	// Use development config in dev/staging, production in prod
	environment := "production"
	if cfg != nil && cfg.Environment != "" {
		environment = cfg.Environment
	}

	if environment == "development" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// Output to stdout by default
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	var opts []zap.Option
	if cfg != nil && cfg.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.DSN,
			Environment: environment,
			Release:     cfg.Release,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		sentryEnabled = true
		hub := sentry.CurrentHub()
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, NewSentryCore(hub, zapcore.ErrorLevel))
		}))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		return err
	}
	Logger = logger

	if sentryEnabled {
		Logger.Info("Sentry error reporting enabled", zap.String("environment", environment))
	}

	return nil
}

// Sync flushes any buffered log entries and pending Sentry events
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}

// WithComponent creates a child logger with a component field
func WithComponent(component string) *zap.Logger {
	return Logger.With(zap.String("component", component))
}

// WithRequestID creates a child logger with a request_id field
func WithRequestID(requestID string) *zap.Logger {
	return Logger.With(zap.String("request_id", requestID))
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Logger.Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	Sync()
	Logger.Fatal(msg, fields...)
	os.Exit(1)
}
