package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracelab/startupcal/internal/queue"
	"github.com/tracelab/startupcal/pkg/core"
)

// ErrServiceClosed is returned by AddJob after Shutdown.
var ErrServiceClosed = errors.New("extraction pool shut down")

// Pool is a Service running jobs on a fixed number of workers that share one queue.
type Pool struct {
	decoder Decoder
	workers int
	logger  *slog.Logger

	jobs *queue.Queue[core.ExtractionJob]
	wake chan struct{}

	mu       sync.Mutex
	sink     ResultSink
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	shutdown bool
	wg       sync.WaitGroup
}

// NewPool creates a Pool driving decoder. Workers start on Initialize.
func NewPool(decoder Decoder, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		decoder: decoder,
		workers: workers,
		logger:  logger,
		jobs:    queue.New[core.ExtractionJob](),
		wake:    make(chan struct{}, 1),
	}
}

// Initialize opens the decoder and starts the workers.
func (p *Pool) Initialize(cfg ServiceConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return ErrServiceClosed
	}
	if p.started {
		return fmt.Errorf("extraction pool already initialized")
	}
	if cfg.Sink == nil {
		return fmt.Errorf("extraction pool needs a result sink")
	}
	if err := p.decoder.Open(cfg); err != nil {
		return fmt.Errorf("opening decoder for %s: %w", cfg.SourceMediaPath, err)
	}

	p.sink = cfg.Sink
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("Extraction pool started", "workers", p.workers, "source", cfg.SourceMediaPath)
	return nil
}

// AddJob queues a job for the next idle worker.
func (p *Pool) AddJob(job core.ExtractionJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrServiceClosed
	}
	if !p.started {
		return ErrNotInitialized
	}
	p.jobs.Push(job)
	p.poke()
	return nil
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	return p.jobs.Len()
}

func (p *Pool) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) run(worker int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}

		for {
			job, ok := p.jobs.TryPop()
			if !ok {
				break
			}
			// hand the rest of the queue to another idle worker
			if !p.jobs.Empty() {
				p.poke()
			}
			if p.ctx.Err() != nil {
				return
			}
			p.process(worker, job)
		}
	}
}

func (p *Pool) process(worker int, job core.ExtractionJob) {
	frames, err := p.decoder.Decode(p.ctx, job.StartTime, job.RequestedCount)
	if p.ctx.Err() != nil {
		// shut down mid-job; nobody is listening anymore
		return
	}

	result := core.JobResult{
		Success:    err == nil,
		AddedCount: len(frames),
		Job:        job,
		Frames:     frames,
		Err:        err,
	}
	if len(frames) > 0 {
		result.FirstFrameIndex = int(frames[0].Index)
	}
	if err != nil {
		p.logger.Warn("Decode failed", "worker", worker, "jobID", job.ID, "error", err)
	}

	p.sink.ReceiveResults(core.SourceFrameExtractor, result)
}

// Shutdown stops the workers, discards queued jobs and closes the decoder.
// It waits for in-flight decodes to return.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	started := p.started
	if started {
		p.cancel()
	}
	p.mu.Unlock()

	if dropped := p.jobs.Drain(); len(dropped) > 0 {
		p.logger.Debug("Discarded queued extraction jobs", "count", len(dropped))
	}
	if !started {
		return
	}

	p.wg.Wait()
	if err := p.decoder.Close(); err != nil {
		p.logger.Warn("Closing decoder failed", "error", err)
	}
	p.logger.Info("Extraction pool stopped")
}
