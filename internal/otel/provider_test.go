package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/dispatcher"
)

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

func TestNew_Disabled(t *testing.T) {
	p, err := New(config.OTelConfig{}, nil)
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.Nil(t, p.MeterProvider())
	assert.NotNil(t, p.Meter("test"))
	p.Register()
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(config.OTelConfig{Enabled: true, ServiceName: "startupcal"}, nil)

	assert.Error(t, err)
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(config.OTelConfig{
		Enabled:      true,
		ServiceName:  "startupcal",
		BatchTimeout: time.Second,
	}, &buf)
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	require.NotNil(t, p.LoggerProvider())
	require.NotNil(t, p.MeterProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestRegister_ExportsDispatcherCounters(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(config.OTelConfig{
		Enabled:      true,
		ServiceName:  "startupcal",
		BatchTimeout: time.Second,
	}, &buf)
	require.NoError(t, err)
	p.Register()
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	d, err := dispatcher.New(quietLogger{})
	require.NoError(t, err)
	d.Register(":FRAME:REQUEST:", func(dispatcher.Event) (any, error) { return nil, nil }, dispatcher.Throttled(1))
	now := time.Now()
	_, _ = d.Dispatch(dispatcher.Event{Command: ":FRAME:REQUEST:", Timestamp: now})
	_, err = d.Dispatch(dispatcher.Event{Command: ":FRAME:REQUEST:", Timestamp: now})
	require.ErrorIs(t, err, dispatcher.ErrThrottled)

	require.NoError(t, p.Flush(context.Background()))

	assert.Contains(t, buf.String(), "dispatcher.events.throttled")
	assert.NoError(t, p.Shutdown(context.Background()))
}
