// pkg/core/frame.go
package core

// FrameSlot is one decoded frame addressed by its frame index.
type FrameSlot struct {
	Index float64
	Image []byte
}

// JobKind selects what the extraction service does with a job.
type JobKind string

const (
	// JobPreload warms the extractor around a position without a target frame.
	JobPreload JobKind = "PRELOAD"
	// JobCollectFrames decodes RequestedCount frames starting at StartTime.
	JobCollectFrames JobKind = "COLLECT_FRAMES"
)

// SourceType names the producer of a job result.
type SourceType string

const SourceFrameExtractor SourceType = "FRAME_EXTRACTOR"

// ExtractionJob asks the extraction service for frames.
// RootID is shared by a request and all its corrective retries.
type ExtractionJob struct {
	ID               string
	RootID           string
	Kind             JobKind
	StartTime        float64
	RequestedCount   int
	TargetFrameIndex *float64
	RetryCount       int
}

// JobResult is delivered asynchronously when a job finishes.
type JobResult struct {
	Success         bool
	AddedCount      int
	FirstFrameIndex int
	Job             ExtractionJob
	Frames          []FrameSlot
	Err             error
}
