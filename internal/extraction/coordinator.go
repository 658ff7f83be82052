package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tracelab/startupcal/internal/cache"
	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/pkg/core"
)

// Dependencies holds the collaborators of a Coordinator.
type Dependencies struct {
	Service  Service
	Cache    *cache.FrameCache
	Timeline Timeline
	Logger   *slog.Logger

	// OnFailure is called from the delivering goroutine when a request cannot be
	// satisfied. Optional.
	OnFailure func(job core.ExtractionJob, err error)
}

// Stats counts coordinator activity since creation.
type Stats struct {
	Submitted    int64
	Retries      int64
	Failures     int64
	FramesMerged int64
}

// Coordinator submits extraction jobs, merges their results into the cache and
// corrects jobs whose first frame missed the requested target.
type Coordinator struct {
	deps   Dependencies
	cfg    config.ExtractionConfig
	logger *slog.Logger

	mu   sync.RWMutex
	rate float64

	closed atomic.Bool
	notify chan struct{}

	submitted    atomic.Int64
	retries      atomic.Int64
	failures     atomic.Int64
	framesMerged atomic.Int64

	// OTEL metrics
	jobsSubmitted metric.Int64Counter
	jobsRetried   metric.Int64Counter
	jobsFailed    metric.Int64Counter
	framesCounter metric.Int64Counter
}

// NewCoordinator creates a Coordinator. The rate starts at cfg.DefaultRate until
// CalibrateSampleRate measures one.
func NewCoordinator(deps Dependencies, cfg config.ExtractionConfig) (*Coordinator, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("extraction service is required")
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewFrameCache()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	c := &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		rate:   cfg.DefaultRate,
		notify: make(chan struct{}, 1),
	}

	m := meter()
	var err error

	c.jobsSubmitted, err = m.Int64Counter(
		"extraction.jobs.submitted",
		metric.WithDescription("Extraction jobs handed to the service"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating submitted counter: %w", err)
	}

	c.jobsRetried, err = m.Int64Counter(
		"extraction.jobs.retried",
		metric.WithDescription("Corrective retries for jobs that missed their target frame"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retried counter: %w", err)
	}

	c.jobsFailed, err = m.Int64Counter(
		"extraction.jobs.failed",
		metric.WithDescription("Requests surfaced as extraction failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	c.framesCounter, err = m.Int64Counter(
		"extraction.frames.merged",
		metric.WithDescription("Frames merged into the frame cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	return c, nil
}

// Start initializes the service with the coordinator as its result sink.
func (c *Coordinator) Start(cfg ServiceConfig) error {
	cfg.Sink = c
	if cfg.OutputDir == "" {
		cfg.OutputDir = c.cfg.OutputDir
	}
	if cfg.Width == 0 {
		cfg.Width = c.cfg.Width
	}
	if cfg.Height == 0 {
		cfg.Height = c.cfg.Height
	}
	if err := c.deps.Service.Initialize(cfg); err != nil {
		return fmt.Errorf("initializing extraction service: %w", err)
	}
	return nil
}

// Cache returns the frame cache results are merged into.
func (c *Coordinator) Cache() *cache.FrameCache {
	return c.deps.Cache
}

// RequestRange asks for count frames starting at startTime. It returns once the job
// is queued; frames arrive later through ReceiveResults. A non-nil targetIndexHint
// enables corrective retries when the first decoded frame misses it.
func (c *Coordinator) RequestRange(startTime float64, count int, targetIndexHint *float64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if startTime < 0 || math.IsNaN(startTime) {
		startTime = 0
	}
	if count <= 0 {
		count = c.cfg.BatchSize
	}

	id := uuid.NewString()
	job := core.ExtractionJob{
		ID:             id,
		RootID:         id,
		Kind:           core.JobPreload,
		StartTime:      startTime,
		RequestedCount: count,
	}
	if targetIndexHint != nil {
		target := *targetIndexHint
		job.Kind = core.JobCollectFrames
		job.TargetFrameIndex = &target
	}
	return c.submit(job)
}

func (c *Coordinator) submit(job core.ExtractionJob) error {
	if err := c.deps.Service.AddJob(job); err != nil {
		return fmt.Errorf("submitting job %s: %w", job.ID, err)
	}
	c.submitted.Add(1)
	c.jobsSubmitted.Add(context.Background(), 1)
	c.logger.Debug("Extraction job submitted",
		"jobID", job.ID, "kind", job.Kind, "start", job.StartTime,
		"count", job.RequestedCount, "retry", job.RetryCount)
	return nil
}

// ReceiveResults implements ResultSink.
func (c *Coordinator) ReceiveResults(source core.SourceType, result core.JobResult) {
	if source != core.SourceFrameExtractor {
		c.logger.Debug("Ignoring result from unknown source", "source", source)
		return
	}
	c.OnJobComplete(result)
}

// OnJobComplete merges a finished job. Results arriving after Close are ignored.
func (c *Coordinator) OnJobComplete(result core.JobResult) {
	if c.closed.Load() {
		return
	}
	job := result.Job

	if !result.Success {
		cause := result.Err
		if cause == nil {
			cause = fmt.Errorf("job %s reported no success", job.ID)
		}
		c.fail(job, fmt.Errorf("%w: %w", ErrExtractionFailure, cause))
		return
	}
	if result.AddedCount <= 0 {
		c.logger.Debug("Extraction job added no frames", "jobID", job.ID)
		return
	}

	c.deps.Cache.PutAll(result.Frames)
	c.framesMerged.Add(int64(len(result.Frames)))
	c.framesCounter.Add(context.Background(), int64(len(result.Frames)))
	c.signal()

	if job.TargetFrameIndex == nil {
		return
	}
	target := *job.TargetFrameIndex
	first := float64(result.FirstFrameIndex)
	if math.Abs(target-first) > 1 {
		c.retry(job, target, first)
	}
}

func (c *Coordinator) retry(job core.ExtractionJob, target, first float64) {
	// another job may already have delivered the frame
	if c.deps.Cache.Has(target, 1) {
		c.logger.Debug("Target frame already cached, skipping retry", "jobID", job.ID, "target", target)
		return
	}
	if job.RetryCount >= c.cfg.MaxRetries {
		c.fail(job, fmt.Errorf("%w: frame %.0f not reached after %d retries (last first frame %.0f)",
			ErrExtractionFailure, target, job.RetryCount, first))
		return
	}

	next := job
	next.ID = uuid.NewString()
	next.StartTime = math.Max(0, job.StartTime-(first-target)/c.Rate())
	next.RetryCount = job.RetryCount + 1

	c.retries.Add(1)
	c.jobsRetried.Add(context.Background(), 1)
	c.logger.Debug("Retrying extraction job",
		"rootID", job.RootID, "target", target, "first", first,
		"start", next.StartTime, "retry", next.RetryCount)

	if err := c.submit(next); err != nil {
		c.fail(next, fmt.Errorf("%w: %w", ErrExtractionFailure, err))
	}
}

func (c *Coordinator) fail(job core.ExtractionJob, err error) {
	c.failures.Add(1)
	c.jobsFailed.Add(context.Background(), 1)
	c.logger.Error("Extraction request failed", "jobID", job.ID, "rootID", job.RootID, "error", err)
	if c.deps.OnFailure != nil {
		c.deps.OnFailure(job, err)
	}
}

func (c *Coordinator) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// CalibrateSampleRate probes frames at the start and the middle of the recording and
// derives frames per second from the highest index returned. It waits at most
// extraction.probeTimeout or until ctx is done. defaultRate is used, and returned,
// when nothing usable comes back.
func (c *Coordinator) CalibrateSampleRate(ctx context.Context, defaultRate float64) float64 {
	if defaultRate <= 0 {
		defaultRate = c.cfg.DefaultRate
	}
	duration := 0.0
	if c.deps.Timeline != nil {
		duration = c.deps.Timeline.Duration()
	}
	if duration <= 0 {
		return c.degenerate(defaultRate, fmt.Errorf("%w: duration %.3f", ErrRateDegenerate, duration))
	}

	half := duration / 2
	for _, start := range []float64{0, half} {
		if err := c.RequestRange(start, 1, nil); err != nil {
			return c.degenerate(defaultRate, fmt.Errorf("%w: %w", ErrRateDegenerate, err))
		}
	}

	timeout := c.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

wait:
	for c.deps.Cache.Len() < 2 {
		select {
		case <-c.notify:
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	last, ok := c.deps.Cache.LastKey()
	if !ok {
		return c.degenerate(defaultRate, fmt.Errorf("%w: no samples", ErrRateDegenerate))
	}
	rate := last / half
	if rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return c.degenerate(defaultRate, fmt.Errorf("%w: rate %.3f", ErrRateDegenerate, rate))
	}

	c.setRate(rate)
	c.logger.Info("Sample rate calibrated", "rate", rate, "lastIndex", last, "duration", duration)
	return rate
}

func (c *Coordinator) degenerate(defaultRate float64, err error) float64 {
	c.logger.Warn("Using default sample rate", "rate", defaultRate, "error", err)
	c.setRate(defaultRate)
	return defaultRate
}

func (c *Coordinator) setRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
}

// Rate returns the effective frames-per-second.
func (c *Coordinator) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

func (c *Coordinator) offset() float64 {
	if c.deps.Timeline == nil {
		return 0
	}
	return c.deps.Timeline.VideoOffset()
}

// MediaTime converts a trace timestamp to seconds into the recording. Job start
// times are media times.
func (c *Coordinator) MediaTime(ts float64) float64 {
	return ts - c.offset()
}

// FrameIndex converts a trace timestamp to a frame index.
func (c *Coordinator) FrameIndex(ts float64) float64 {
	return c.MediaTime(ts) * c.Rate()
}

// TimeForFrame converts a frame index back to a trace timestamp.
func (c *Coordinator) TimeForFrame(index float64) float64 {
	return index/c.Rate() + c.offset()
}

// Stats returns a snapshot of the activity counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submitted:    c.submitted.Load(),
		Retries:      c.retries.Load(),
		Failures:     c.failures.Load(),
		FramesMerged: c.framesMerged.Load(),
	}
}

// Close shuts the service down. Completions delivered afterwards are dropped.
func (c *Coordinator) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.deps.Service.Shutdown()
}
