package shared

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service names used in the "service" log field
const (
	ServiceNotary   = "notary"
	ServiceProver   = "prover"
	ServiceVerifier = "verifier"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	ServiceName string
	Development bool   // console encoding, debug level
	Quiet       bool   // errors and security events only
	Level       string // overrides the level implied above, e.g. "warn"
}

// Logger wraps zap.Logger with notary-specific context helpers.
type Logger struct {
	*zap.Logger
	quiet bool
}

func NewLogger(config LoggerConfig) (*Logger, error) {
	zapConfig := zap.NewProductionConfig()
	level := zapcore.InfoLevel

	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
		level = zapcore.DebugLevel
	}
	if config.Quiet {
		zapConfig.DisableCaller = true
		zapConfig.DisableStacktrace = true
		level = zapcore.ErrorLevel
	}
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		level = parsed
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	if config.ServiceName != "" {
		zapLogger = zapLogger.With(zap.String("service", config.ServiceName))
	}
	return &Logger{Logger: zapLogger, quiet: config.Quiet}, nil
}

// NewLoggerFromEnv reads DEVELOPMENT, QUIET_LOGS and LOG_LEVEL.
func NewLoggerFromEnv(serviceName string) (*Logger, error) {
	return NewLogger(LoggerConfig{
		ServiceName: serviceName,
		Development: GetEnvBoolOrDefault("DEVELOPMENT", false),
		Quiet:       GetEnvBoolOrDefault("QUIET_LOGS", false),
		Level:       GetEnvOrDefault("LOG_LEVEL", ""),
	})
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithSession tags entries with a notarized session id.
func (l *Logger) WithSession(sessionID string) *zap.Logger {
	if sessionID == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("session_id", sessionID))
}

func (l *Logger) WithConnection(remoteAddr string) *zap.Logger {
	if remoteAddr == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("remote_addr", remoteAddr))
}

// Critical logs failures an operator must act on.
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, zap.Bool("critical", true))...)
}

// Security logs rejected, forged or tampered input. Quiet loggers still
// record it.
func (l *Logger) Security(msg string, fields ...zap.Field) {
	fields = append(fields, zap.Bool("security_event", true))
	if l.quiet {
		l.Logger.Error(msg, fields...)
		return
	}
	l.Logger.Warn(msg, fields...)
}

// DebugIf skips the entry entirely in quiet mode.
func (l *Logger) DebugIf(msg string, fields ...zap.Field) {
	if !l.quiet {
		l.Logger.Debug(msg, fields...)
	}
}

func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
