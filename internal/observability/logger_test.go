package observability

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	logger.Info("logger works")
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "ERROR")

	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("INFO enabled with LOG_LEVEL=ERROR")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("ERROR not enabled with LOG_LEVEL=ERROR")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{in: "DEBUG", want: zap.DebugLevel},
		{in: "debug", want: zap.DebugLevel},
		{in: " warn ", want: zap.WarnLevel},
		{in: "ERROR", want: zap.ErrorLevel},
		{in: "", want: zap.InfoLevel},
		{in: "bogus", want: zap.InfoLevel},
	}

	for _, tc := range tests {
		if got := parseLogLevel(tc.in).Level(); got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
