package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(buf *bytes.Buffer, level zerolog.Level) *DispatcherLogger {
	return NewDispatcherLogger(zerolog.New(buf).Level(level))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse log output")
	return entry
}

func TestNewDispatcherLogger(t *testing.T) {
	dl := NewDispatcherLogger(zerolog.Nop())

	if dl == nil {
		t.Fatal("expected non-nil DispatcherLogger")
	}
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	dl := newBufferedLogger(&buf, zerolog.DebugLevel)

	dl.Debug("handling event", "command", ":CURSOR:SET:", "args", 1)

	entry := decodeEntry(t, &buf)
	if entry["level"] != "debug" {
		t.Errorf("expected level 'debug', got %v", entry["level"])
	}
	if entry["message"] != "handling event" {
		t.Errorf("expected message 'handling event', got %v", entry["message"])
	}
	if entry["command"] != ":CURSOR:SET:" {
		t.Errorf("expected command=':CURSOR:SET:', got %v", entry["command"])
	}
	if entry["args"] != float64(1) { // JSON numbers are float64
		t.Errorf("expected args=1, got %v", entry["args"])
	}
}

func TestDispatcherLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	dl := newBufferedLogger(&buf, zerolog.InfoLevel)

	dl.Info("calibration committed", "startupTime", 3.2)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "calibration committed", entry["message"])
	assert.Equal(t, 3.2, entry["startupTime"])
}

func TestDispatcherLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	dl := newBufferedLogger(&buf, zerolog.ErrorLevel)

	dl.Error("event failed", "command", ":COMMIT:", "error", errors.New("invalid commit"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "event failed", entry["message"])
	assert.Equal(t, ":COMMIT:", entry["command"])
	assert.Equal(t, "invalid commit", entry["error"])
}

func TestDispatcherLogger_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	dl := newBufferedLogger(&buf, zerolog.InfoLevel)

	dl.Debug("hidden")

	assert.Zero(t, buf.Len())
}

func TestDispatcherLogger_NoKeyValues(t *testing.T) {
	var buf bytes.Buffer
	dl := newBufferedLogger(&buf, zerolog.DebugLevel)

	dl.Debug("simple message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "simple message", entry["message"])
}

func TestToFields(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "b", "dangling"})

	assert.Equal(t, map[string]any{"a": 1, "2": "b"}, fields)
}

func TestDispatcherLogger_ImplementsInterface(t *testing.T) {
	dl := NewDispatcherLogger(zerolog.Nop())

	var _ interface {
		Debug(msg string, keysAndValues ...any)
		Info(msg string, keysAndValues ...any)
		Error(msg string, keysAndValues ...any)
	} = dl
}
