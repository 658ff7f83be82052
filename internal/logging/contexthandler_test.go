package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_EvaluatesPerRecord(t *testing.T) {
	var buf bytes.Buffer
	state := "ACTIVE"
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("traceFolder", "run-7"), slog.String("cursor", state)}
	}))

	logger.Info("moved")
	state = "COMMITTED"
	logger.With("component", "session").Info("committed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "cursor=ACTIVE")
	assert.Contains(t, lines[1], "cursor=COMMITTED")
	assert.Contains(t, lines[1], "component=session")
	assert.Contains(t, lines[1], "traceFolder=run-7")
}

func TestContextHandler_RecordKeyWins(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("traceFolder", "run-7")}
	}))

	logger.Info("restored", "traceFolder", "run-8")

	assert.Equal(t, 1, strings.Count(buf.String(), "traceFolder="))
	assert.Contains(t, buf.String(), "traceFolder=run-8")
}

func TestContextHandler_NilProvider(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), nil))

	logger.WithGroup("job").Info("submitted", "id", "j1")

	assert.Contains(t, buf.String(), "job.id=j1")
}
