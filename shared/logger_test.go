package shared

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggerConfig
		enabled zapcore.Level
		wantErr bool
	}{
		{"production", LoggerConfig{}, zapcore.InfoLevel, false},
		{"development", LoggerConfig{Development: true}, zapcore.DebugLevel, false},
		{"quiet", LoggerConfig{Quiet: true}, zapcore.ErrorLevel, false},
		{"explicit level", LoggerConfig{Quiet: true, Level: "warn"}, zapcore.WarnLevel, false},
		{"bad level", LoggerConfig{Level: "loud"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("Expected level %s to be enabled", tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("Expected level %s to be disabled", tt.enabled-1)
			}
		})
	}
}

func TestSecurityEventsSurviveQuietMode(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger := &Logger{Logger: zap.New(core), quiet: true}

	logger.Security("Rejected proof", zap.String("session_id", "s1"))
	logger.DebugIf("dropped")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["security_event"] != true {
		t.Errorf("Expected security_event field, got %v", entries[0].ContextMap())
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TLSN_TEST_INT", "42")
	t.Setenv("TLSN_TEST_BAD_INT", "forty")
	t.Setenv("TLSN_TEST_BOOL", "true")
	t.Setenv("TLSN_TEST_DURATION", "90s")
	t.Setenv("TLSN_TEST_LIST", "header:authorization, ,jsonpath:$.account")

	if got := GetEnvIntOrDefault("TLSN_TEST_INT", 1); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
	if got := GetEnvIntOrDefault("TLSN_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("Expected default for unparsable int, got %d", got)
	}
	if !GetEnvBoolOrDefault("TLSN_TEST_BOOL", false) {
		t.Error("Expected true")
	}
	if got := GetEnvDurationOrDefault("TLSN_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("Expected 90s, got %s", got)
	}
	if got := GetEnvOrDefault("TLSN_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %q", got)
	}

	list := GetEnvListOrDefault("TLSN_TEST_LIST", nil)
	if len(list) != 2 || list[0] != "header:authorization" || list[1] != "jsonpath:$.account" {
		t.Errorf("Unexpected list %q", list)
	}
}
