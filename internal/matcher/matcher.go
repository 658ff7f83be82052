// Package matcher finds the entry of a time-ordered stream closest to a target time.
//
// Ties between candidates at the same distance resolve to the one that comes first
// in the stream. Callers rely on this to keep selections stable while a cursor moves.
package matcher

import (
	"errors"
	"math"
	"sort"

	"github.com/tracelab/startupcal/pkg/core"
)

// ErrNoMatch is returned when the stream is empty or no entry lies within tolerance.
var ErrNoMatch = errors.New("no match within tolerance")

// NearestIndex returns the position of the entry whose time is closest to target,
// considering only entries with |at(e)-target| <= tolerance.
// Entries must be sorted ascending by at.
func NearestIndex[T any](entries []T, at func(T) float64, target, tolerance float64) (int, error) {
	if len(entries) == 0 || tolerance < 0 || math.IsNaN(target) {
		return -1, ErrNoMatch
	}

	lo := target - tolerance
	start := sort.Search(len(entries), func(i int) bool {
		return at(entries[i]) >= lo
	})

	best := -1
	bestDelta := math.Inf(1)
	for i := start; i < len(entries); i++ {
		ts := at(entries[i])
		if ts > target+tolerance {
			break
		}
		delta := math.Abs(ts - target)
		// strictly smaller only: equal deltas keep the earlier entry
		if delta <= tolerance && delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}

	if best < 0 {
		return -1, ErrNoMatch
	}
	return best, nil
}

// Nearest is NearestIndex returning the entry itself.
func Nearest[T any](entries []T, at func(T) float64, target, tolerance float64) (T, error) {
	i, err := NearestIndex(entries, at, target, tolerance)
	if err != nil {
		var zero T
		return zero, err
	}
	return entries[i], nil
}

// FindNearest matches target against a sample stream.
func FindNearest(stream core.EventStream, target, tolerance float64) (core.Sample, error) {
	return Nearest(stream, sampleTime, target, tolerance)
}

// FloorIndex returns the last entry whose time is <= key.
func FloorIndex[T any](entries []T, at func(T) float64, key float64) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return at(entries[i]) > key
	})
	if i == 0 {
		return -1, false
	}
	return i - 1, true
}

// CeilingIndex returns the first entry whose time is >= key.
func CeilingIndex[T any](entries []T, at func(T) float64, key float64) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return at(entries[i]) >= key
	})
	if i == len(entries) {
		return -1, false
	}
	return i, true
}

// Floor returns the sample at or before key.
func Floor(stream core.EventStream, key float64) (core.Sample, bool) {
	i, ok := FloorIndex(stream, sampleTime, key)
	if !ok {
		return core.Sample{}, false
	}
	return stream[i], true
}

// Ceiling returns the sample at or after key.
func Ceiling(stream core.EventStream, key float64) (core.Sample, bool) {
	i, ok := CeilingIndex(stream, sampleTime, key)
	if !ok {
		return core.Sample{}, false
	}
	return stream[i], true
}

func sampleTime(s core.Sample) float64 { return s.Timestamp }
