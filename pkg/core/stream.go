// pkg/core/stream.go
package core

import "sort"

// Sample is one time-stamped entry in an event stream (segment, user event, packet).
// Timestamp is in seconds relative to the start of the trace.
type Sample struct {
	Timestamp float64
	Payload   any
}

// EventStream is a sequence of samples sorted ascending by timestamp.
type EventStream []Sample

// Sorted reports whether timestamps are non-decreasing.
func (s EventStream) Sorted() bool {
	return sort.SliceIsSorted(s, func(i, j int) bool {
		return s[i].Timestamp < s[j].Timestamp
	})
}

// NewEventStream builds a stream from entries using at as the time key.
// The result is stable-sorted so entries sharing a timestamp keep their input order.
func NewEventStream[T any](entries []T, at func(T) float64) EventStream {
	stream := make(EventStream, 0, len(entries))
	for _, e := range entries {
		stream = append(stream, Sample{Timestamp: at(e), Payload: e})
	}
	sort.SliceStable(stream, func(i, j int) bool {
		return stream[i].Timestamp < stream[j].Timestamp
	})
	return stream
}

// StreamKind names one of the correlated axes of a trace.
type StreamKind string

const (
	StreamSegments   StreamKind = "segments"
	StreamUserEvents StreamKind = "user_events"
	StreamPackets    StreamKind = "packets"
	StreamSessions   StreamKind = "sessions"
	StreamRoutes     StreamKind = "routes"
)
