package observability

import (
	"context"
	"log/slog"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
	}{
		{
			name:   "json format",
			config: LoggingConfig{Level: "info", Format: "json"},
		},
		{
			name:   "text format",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
		},
		{
			name:   "default format",
			config: LoggingConfig{Level: "warn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"Info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := parseLevel(tt.level); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		config LoggingConfig
		want   zapcore.Level
	}{
		{LoggingConfig{Level: "debug", Format: "json"}, zapcore.DebugLevel},
		{LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, zapcore.InfoLevel},
		{LoggingConfig{Level: "error"}, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.config.Level, func(t *testing.T) {
			logger, err := NewZapLogger(tt.config)
			if err != nil {
				t.Fatalf("NewZapLogger() error = %v", err)
			}
			if !logger.Core().Enabled(tt.want) {
				t.Errorf("level %v should be enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && logger.Core().Enabled(zapcore.DebugLevel) {
				t.Error("debug should be disabled")
			}
		})
	}
}
