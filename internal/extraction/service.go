// Package extraction requests decoded frames from an asynchronous extraction service
// and merges the results into the frame cache.
package extraction

import (
	"context"
	"errors"

	"github.com/tracelab/startupcal/pkg/core"
)

var (
	// ErrExtractionFailure is surfaced when a job fails or its corrective retries run out.
	ErrExtractionFailure = errors.New("frame extraction failed")
	// ErrRateDegenerate means no usable sample rate could be measured.
	ErrRateDegenerate = errors.New("sample rate calibration degenerate")
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("extraction closed")
	// ErrNotInitialized is returned by a service that has not been initialized.
	ErrNotInitialized = errors.New("extraction service not initialized")
)

// ServiceConfig configures an extraction service for one reference recording.
type ServiceConfig struct {
	OutputDir       string
	SourceMediaPath string
	Width           int
	Height          int

	// Sink receives every job result. Set by Coordinator.Start.
	Sink ResultSink
}

// Service runs extraction jobs asynchronously.
type Service interface {
	Initialize(cfg ServiceConfig) error
	AddJob(job core.ExtractionJob) error
	Shutdown()
}

// ResultSink receives job results from a service's worker goroutines.
type ResultSink interface {
	ReceiveResults(source core.SourceType, result core.JobResult)
}

// Decoder turns a time range of the source recording into frames.
type Decoder interface {
	Open(cfg ServiceConfig) error
	Decode(ctx context.Context, startTime float64, count int) ([]core.FrameSlot, error)
	Close() error
}

// Timeline supplies the playback geometry the coordinator converts against.
type Timeline interface {
	Duration() float64
	VideoOffset() float64
}
