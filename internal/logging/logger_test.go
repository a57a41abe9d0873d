package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "explicit config", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("warning line")
	if !strings.Contains(buf.String(), "warning line") {
		t.Fatalf("expected warning line in output, got: %s", buf.String())
	}
}

func TestLoggerWithInterface(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	ifaceLogger := logger.WithInterface("eth0")
	ifaceLogger.Info("link up")

	if !strings.Contains(buf.String(), "iface=eth0") {
		t.Errorf("expected iface=eth0 in output, got: %s", buf.String())
	}

	buf.Reset()
	badgeLogger := ifaceLogger.WithBadge(7)
	badgeLogger.Debug("probe")
	out := buf.String()
	if !strings.Contains(out, "iface=eth0") || !strings.Contains(out, "badge=7") {
		t.Errorf("expected both iface and badge fields, got: %s", out)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	errLogger := logger.WithError(errors.New("boom"))
	errLogger.Error("operation failed")

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected wrapped error text in output, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") || !strings.Contains(buf.String(), "key=value") {
		t.Errorf("unexpected debug output: %s", buf.String())
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("unexpected info output: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("unexpected warn output: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("unexpected error output: %s", buf.String())
	}
}
