package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelab/startupcal/pkg/core"
)

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%05d.jpg", i))
		require.NoError(t, os.WriteFile(name, []byte(fmt.Sprintf("img%d", i)), 0o644))
	}
	// ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "thumbs.png"), 0o755))
	return dir
}

func TestDirDecoder_Open(t *testing.T) {
	dir := writeFrames(t, 12)
	d := NewDirDecoder(10)

	require.NoError(t, d.Open(ServiceConfig{OutputDir: dir}))

	assert.Equal(t, 12, d.Frames())
}

func TestDirDecoder_OpenErrors(t *testing.T) {
	assert.Error(t, NewDirDecoder(0).Open(ServiceConfig{OutputDir: t.TempDir()}))
	assert.Error(t, NewDirDecoder(10).Open(ServiceConfig{OutputDir: filepath.Join(t.TempDir(), "missing")}))
}

func TestDirDecoder_Decode(t *testing.T) {
	d := NewDirDecoder(10)
	require.NoError(t, d.Open(ServiceConfig{OutputDir: writeFrames(t, 12)}))

	frames, err := d.Decode(context.Background(), 0.45, 3)

	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, 4.0, frames[0].Index)
	assert.Equal(t, []byte("img4"), frames[0].Image)
	assert.Equal(t, 6.0, frames[2].Index)
}

func TestDirDecoder_DecodeUndershootsAtEnd(t *testing.T) {
	d := NewDirDecoder(10)
	require.NoError(t, d.Open(ServiceConfig{OutputDir: writeFrames(t, 12)}))

	frames, err := d.Decode(context.Background(), 1.0, 5)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	frames, err = d.Decode(context.Background(), 3.0, 5)
	require.NoError(t, err)
	assert.Empty(t, frames)

	_, err = d.Decode(context.Background(), -0.1, 1)
	assert.Error(t, err)
}

func TestDirDecoder_DecodeCancelled(t *testing.T) {
	d := NewDirDecoder(10)
	require.NoError(t, d.Open(ServiceConfig{OutputDir: writeFrames(t, 4)}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Decode(ctx, 0, 2)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirDecoder_DrivesPool(t *testing.T) {
	dir := writeFrames(t, 40)
	sink := &chanSink{results: make(chan core.JobResult, 1)}
	p := NewPool(NewDirDecoder(10), 1, nil)
	require.NoError(t, p.Initialize(ServiceConfig{OutputDir: dir, Sink: sink}))
	defer p.Shutdown()

	require.NoError(t, p.AddJob(core.ExtractionJob{ID: "j", StartTime: 2.0, RequestedCount: 4}))

	r := receive(t, sink)
	assert.True(t, r.Success)
	assert.Equal(t, 20, r.FirstFrameIndex)
	assert.Equal(t, 4, r.AddedCount)
}

func TestDirDecoder_Close(t *testing.T) {
	d := NewDirDecoder(10)
	require.NoError(t, d.Open(ServiceConfig{OutputDir: writeFrames(t, 3)}))

	require.NoError(t, d.Close())

	assert.Zero(t, d.Frames())
}
