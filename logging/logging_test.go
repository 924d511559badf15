package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tt := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "defaults", cfg: Config{}},
		{name: "json", cfg: Config{Level: "debug", Format: "json"}},
		{name: "invalid level", cfg: Config{Level: "loud"}, wantErr: ErrInvalidLevel},
		{name: "invalid format", cfg: Config{Format: "xml"}, wantErr: ErrInvalidFormat},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.cfg.Output = &bytes.Buffer{}
			c, err := New(tc.cfg)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("unexpected error: want %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr == nil && c == nil {
				t.Fatalf("expected a client")
			}
		})
	}
}

func TestLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	c.Debug("hidden")
	c.Info("hidden")
	c.Warn("route not called", zap.String("route", "users"))
	c.Error("failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not json: %v", err)
	}
	if entry["level"] != "warn" || entry["message"] != "route not called" || entry["route"] != "users" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["logger"] != "fetchmock" {
		t.Fatalf("expected logger name fetchmock, got %v", entry["logger"])
	}
}

func TestWrappedLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	c, err := New(Config{Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	c.Info("info")
	c.Trace("trace", zap.Int("n", 1))

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	trace := entries[1]
	if trace.Level != zapcore.DebugLevel {
		t.Fatalf("trace should log at debug, got %v", trace.Level)
	}
	fields := trace.ContextMap()
	if fields["trace"] != true || fields["n"] != int64(1) {
		t.Fatalf("unexpected trace fields: %v", fields)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	c := Nop()
	c.Error("discarded")
	c.Trace("discarded")
}
