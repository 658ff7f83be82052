package matcher

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracelab/startupcal/pkg/core"
)

func abcStream() core.EventStream {
	return core.EventStream{
		{Timestamp: 1.0, Payload: "a"},
		{Timestamp: 5.0, Payload: "b"},
		{Timestamp: 9.0, Payload: "c"},
	}
}

func TestFindNearest(t *testing.T) {
	tests := []struct {
		name      string
		stream    core.EventStream
		target    float64
		tolerance float64
		want      any
		wantErr   bool
	}{
		{name: "match within tolerance", stream: abcStream(), target: 5.4, tolerance: 0.5, want: "b"},
		{name: "gap between entries", stream: abcStream(), target: 7.0, tolerance: 0.5, wantErr: true},
		{name: "empty stream", stream: nil, target: 1.0, tolerance: 10, wantErr: true},
		{name: "exact boundary", stream: abcStream(), target: 9.5, tolerance: 0.5, want: "c"},
		{name: "wide tolerance picks closest", stream: abcStream(), target: 6.0, tolerance: 100, want: "b"},
		{name: "negative tolerance", stream: abcStream(), target: 5.0, tolerance: -1, wantErr: true},
		{name: "NaN target", stream: abcStream(), target: math.NaN(), tolerance: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindNearest(tt.stream, tt.target, tt.tolerance)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoMatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Payload)
		})
	}
}

func TestFindNearest_TieKeepsFirst(t *testing.T) {
	stream := core.EventStream{
		{Timestamp: 4.0, Payload: "early"},
		{Timestamp: 6.0, Payload: "late"},
	}
	got, err := FindNearest(stream, 5.0, 1.0)
	require.NoError(t, err)
	assert.Equal(t, "early", got.Payload)

	dup := core.EventStream{
		{Timestamp: 5.0, Payload: "first"},
		{Timestamp: 5.0, Payload: "second"},
	}
	got, err = FindNearest(dup, 5.0, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Payload)
}

// bruteNearest is the reference linear scan.
func bruteNearest(stream core.EventStream, target, tol float64) int {
	best, bestDelta := -1, math.Inf(1)
	for i, s := range stream {
		d := math.Abs(s.Timestamp - target)
		if d <= tol && d < bestDelta {
			best, bestDelta = i, d
		}
	}
	return best
}

func TestNearestIndex_AgreesWithLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 500; round++ {
		n := rng.Intn(20)
		stream := make(core.EventStream, n)
		ts := 0.0
		for i := range stream {
			// quantised steps so duplicate timestamps and exact ties occur
			ts += float64(rng.Intn(3)) * 0.5
			stream[i] = core.Sample{Timestamp: ts, Payload: i}
		}
		target := float64(rng.Intn(40)) * 0.25
		tol := float64(rng.Intn(6)) * 0.25

		want := bruteNearest(stream, target, tol)
		got, err := NearestIndex(stream, func(s core.Sample) float64 { return s.Timestamp }, target, tol)
		if want < 0 {
			assert.ErrorIs(t, err, ErrNoMatch, "round %d", round)
			continue
		}
		require.NoError(t, err, "round %d", round)
		assert.Equal(t, want, got, "round %d target=%v tol=%v", round, target, tol)
	}
}

func TestNearest_Generic(t *testing.T) {
	events := []core.UserEvent{
		{Type: "tap", PressTime: 2.0},
		{Type: "swipe", PressTime: 0, ReleaseTime: 3.1},
	}
	got, err := Nearest(events, core.UserEvent.Time, 3.0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "swipe", got.Type)
}

func TestFloorCeiling(t *testing.T) {
	stream := abcStream()

	s, ok := Floor(stream, 5.0)
	require.True(t, ok)
	assert.Equal(t, "b", s.Payload)

	s, ok = Floor(stream, 8.9)
	require.True(t, ok)
	assert.Equal(t, "b", s.Payload)

	_, ok = Floor(stream, 0.5)
	assert.False(t, ok)

	s, ok = Ceiling(stream, 5.1)
	require.True(t, ok)
	assert.Equal(t, "c", s.Payload)

	s, ok = Ceiling(stream, 1.0)
	require.True(t, ok)
	assert.Equal(t, "a", s.Payload)

	_, ok = Ceiling(stream, 9.1)
	assert.False(t, ok)

	_, ok = Floor(nil, 1)
	assert.False(t, ok)
}
