package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelab/startupcal/internal/cache"
	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/pkg/core"
)

// recordingService keeps submitted jobs and optionally answers them.
type recordingService struct {
	mu        sync.Mutex
	cfg       ServiceConfig
	jobs      []core.ExtractionJob
	shutdowns int
	addErr    error

	// respond, when set, builds the result delivered for each job on its own goroutine
	respond func(job core.ExtractionJob) core.JobResult
}

func (s *recordingService) Initialize(cfg ServiceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

func (s *recordingService) AddJob(job core.ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.jobs = append(s.jobs, job)
	if s.respond != nil && s.cfg.Sink != nil {
		sink := s.cfg.Sink
		result := s.respond(job)
		go sink.ReceiveResults(core.SourceFrameExtractor, result)
	}
	return nil
}

func (s *recordingService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdowns++
}

func (s *recordingService) submitted() []core.ExtractionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ExtractionJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

type fixedTimeline struct {
	duration float64
	offset   float64
}

func (f fixedTimeline) Duration() float64    { return f.duration }
func (f fixedTimeline) VideoOffset() float64 { return f.offset }

func testConfig() config.ExtractionConfig {
	return config.ExtractionConfig{
		Workers:      1,
		MaxRetries:   3,
		BatchSize:    5,
		DefaultRate:  10,
		ProbeTimeout: time.Second,
	}
}

func newTestCoordinator(t *testing.T, svc *recordingService, timeline Timeline, onFailure func(core.ExtractionJob, error)) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Dependencies{
		Service:   svc,
		Cache:     cache.NewFrameCache(),
		Timeline:  timeline,
		OnFailure: onFailure,
	}, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start(ServiceConfig{SourceMediaPath: "screen.mp4"}))
	return c
}

func frames(first, count int) []core.FrameSlot {
	out := make([]core.FrameSlot, count)
	for i := range out {
		out[i] = core.FrameSlot{Index: float64(first + i), Image: []byte{byte(first + i)}}
	}
	return out
}

func success(job core.ExtractionJob, first, count int) core.JobResult {
	return core.JobResult{
		Success:         true,
		AddedCount:      count,
		FirstFrameIndex: first,
		Job:             job,
		Frames:          frames(first, count),
	}
}

func ptr(f float64) *float64 { return &f }

func TestNewCoordinator_RequiresService(t *testing.T) {
	_, err := NewCoordinator(Dependencies{}, testConfig())
	assert.Error(t, err)
}

func TestStart_SetsSinkAndDefaults(t *testing.T) {
	svc := &recordingService{}
	cfg := testConfig()
	cfg.Width = 320
	cfg.Height = 568
	cfg.OutputDir = "./frames"
	c, err := NewCoordinator(Dependencies{Service: svc}, cfg)
	require.NoError(t, err)

	require.NoError(t, c.Start(ServiceConfig{SourceMediaPath: "screen.mp4"}))

	assert.Same(t, c, svc.cfg.Sink)
	assert.Equal(t, 320, svc.cfg.Width)
	assert.Equal(t, 568, svc.cfg.Height)
	assert.Equal(t, "./frames", svc.cfg.OutputDir)
	assert.NotNil(t, c.Cache())
}

func TestRequestRange_SubmitsJob(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)

	require.NoError(t, c.RequestRange(-2, 0, nil))
	require.NoError(t, c.RequestRange(4, 3, ptr(40)))

	jobs := svc.submitted()
	require.Len(t, jobs, 2)

	assert.Equal(t, core.JobPreload, jobs[0].Kind)
	assert.Equal(t, 0.0, jobs[0].StartTime, "negative start clamps to zero")
	assert.Equal(t, 5, jobs[0].RequestedCount, "count defaults to batch size")
	assert.Nil(t, jobs[0].TargetFrameIndex)
	assert.NotEmpty(t, jobs[0].ID)
	assert.Equal(t, jobs[0].ID, jobs[0].RootID)

	assert.Equal(t, core.JobCollectFrames, jobs[1].Kind)
	require.NotNil(t, jobs[1].TargetFrameIndex)
	assert.Equal(t, 40.0, *jobs[1].TargetFrameIndex)
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID)
	assert.Equal(t, int64(2), c.Stats().Submitted)
}

func TestRequestRange_ServiceError(t *testing.T) {
	svc := &recordingService{addErr: errors.New("busy")}
	c := newTestCoordinator(t, svc, nil, nil)

	err := c.RequestRange(1, 1, nil)

	assert.Error(t, err)
	assert.Equal(t, int64(0), c.Stats().Submitted)
}

func TestOnJobComplete_MergesFrames(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(1, 3, nil))
	job := svc.submitted()[0]

	c.OnJobComplete(success(job, 10, 3))

	assert.Equal(t, 3, c.Cache().Len())
	assert.Equal(t, []float64{10, 11, 12}, c.Cache().Keys())
	assert.Equal(t, int64(3), c.Stats().FramesMerged)
	assert.Len(t, svc.submitted(), 1, "no target, no retry")
}

func TestOnJobComplete_ZeroAddedIsIgnored(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(1, 3, ptr(10)))
	job := svc.submitted()[0]

	c.OnJobComplete(core.JobResult{Success: true, Job: job})

	assert.Equal(t, 0, c.Cache().Len())
	assert.Len(t, svc.submitted(), 1)
}

func TestOnJobComplete_HitWithinOneIndex(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(2, 5, ptr(21)))
	job := svc.submitted()[0]

	c.OnJobComplete(success(job, 20, 5))

	assert.Len(t, svc.submitted(), 1)
	assert.Equal(t, int64(0), c.Stats().Retries)
}

func TestOnJobComplete_RetriesTowardTarget(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(20, 5, ptr(100)))
	job := svc.submitted()[0]

	// first frame is 10 past the target at 10 fps: step back one second
	c.OnJobComplete(success(job, 110, 5))

	jobs := svc.submitted()
	require.Len(t, jobs, 2)
	retry := jobs[1]
	assert.InDelta(t, 19.0, retry.StartTime, 1e-9)
	assert.Equal(t, 1, retry.RetryCount)
	assert.Equal(t, job.RootID, retry.RootID)
	assert.NotEqual(t, job.ID, retry.ID)
	assert.Equal(t, core.JobCollectFrames, retry.Kind)
	assert.Equal(t, int64(1), c.Stats().Retries)
	assert.Equal(t, 5, c.Cache().Len(), "frames are merged even when off target")
}

func TestOnJobComplete_RetryStartClampsToZero(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(0.5, 5, ptr(0)))
	job := svc.submitted()[0]

	c.OnJobComplete(success(job, 50, 5))

	jobs := svc.submitted()
	require.Len(t, jobs, 2)
	assert.Equal(t, 0.0, jobs[1].StartTime)
}

func TestOnJobComplete_RetryBound(t *testing.T) {
	svc := &recordingService{}
	var failures []error
	c := newTestCoordinator(t, svc, nil, func(_ core.ExtractionJob, err error) {
		failures = append(failures, err)
	})
	require.NoError(t, c.RequestRange(20, 5, ptr(100)))

	// the extractor keeps overshooting by the same amount
	for i := 0; i < 10; i++ {
		jobs := svc.submitted()
		last := jobs[len(jobs)-1]
		c.Cache().Reset()
		c.OnJobComplete(success(last, 110, 5))
		if len(failures) > 0 {
			break
		}
	}

	assert.Len(t, svc.submitted(), 1+3, "original plus maxRetries corrective jobs")
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrExtractionFailure)
	assert.Equal(t, int64(3), c.Stats().Retries)
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestOnJobComplete_OutOfOrderSkipsRetry(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(20, 5, ptr(100)))
	require.NoError(t, c.RequestRange(19, 5, ptr(100)))
	jobs := svc.submitted()

	// the later request lands first and covers the target
	c.OnJobComplete(success(jobs[1], 100, 5))
	c.OnJobComplete(success(jobs[0], 110, 5))

	assert.Len(t, svc.submitted(), 2, "no retry when target is already cached")
	assert.Equal(t, 10, c.Cache().Len())
}

func TestOnJobComplete_FailureSurfaced(t *testing.T) {
	svc := &recordingService{}
	var got error
	c := newTestCoordinator(t, svc, nil, func(_ core.ExtractionJob, err error) { got = err })
	require.NoError(t, c.RequestRange(1, 5, ptr(10)))
	job := svc.submitted()[0]

	c.OnJobComplete(core.JobResult{Success: false, Job: job, Err: errors.New("decoder crashed")})

	assert.ErrorIs(t, got, ErrExtractionFailure)
	assert.Contains(t, got.Error(), "decoder crashed")
	assert.Len(t, svc.submitted(), 1, "failures are not retried")
}

func TestReceiveResults_IgnoresOtherSources(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)

	c.ReceiveResults("OTHER", success(core.ExtractionJob{ID: "x"}, 1, 2))
	assert.Equal(t, 0, c.Cache().Len())

	c.ReceiveResults(core.SourceFrameExtractor, success(core.ExtractionJob{ID: "x"}, 1, 2))
	assert.Equal(t, 2, c.Cache().Len())
}

func TestClose_LateCompletionsAreNoOps(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, nil, nil)
	require.NoError(t, c.RequestRange(1, 5, ptr(10)))
	job := svc.submitted()[0]

	c.Close()
	c.Close()
	c.OnJobComplete(success(job, 50, 5))

	assert.Equal(t, 1, svc.shutdowns)
	assert.Equal(t, 0, c.Cache().Len())
	assert.Len(t, svc.submitted(), 1)
	assert.ErrorIs(t, c.RequestRange(1, 1, nil), ErrClosed)
}

func TestCalibrateSampleRate_Measured(t *testing.T) {
	// extractor at 25 fps: the frame at time s has index 25*s
	svc := &recordingService{
		respond: func(job core.ExtractionJob) core.JobResult {
			first := int(job.StartTime * 25)
			return success(job, first, job.RequestedCount)
		},
	}
	c := newTestCoordinator(t, svc, fixedTimeline{duration: 10}, nil)

	rate := c.CalibrateSampleRate(context.Background(), 30)

	assert.InDelta(t, 25.0, rate, 1e-9)
	assert.InDelta(t, 25.0, c.Rate(), 1e-9)
	jobs := svc.submitted()
	require.Len(t, jobs, 2)
	assert.Equal(t, 0.0, jobs[0].StartTime)
	assert.Equal(t, 5.0, jobs[1].StartTime)
	assert.Equal(t, 1, jobs[0].RequestedCount)
}

func TestCalibrateSampleRate_TimeoutFallsBack(t *testing.T) {
	svc := &recordingService{}
	c, err := NewCoordinator(Dependencies{Service: svc, Timeline: fixedTimeline{duration: 10}}, config.ExtractionConfig{
		MaxRetries:   3,
		DefaultRate:  10,
		ProbeTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ServiceConfig{}))

	start := time.Now()
	rate := c.CalibrateSampleRate(context.Background(), 30)

	assert.Equal(t, 30.0, rate)
	assert.Equal(t, 30.0, c.Rate())
	assert.Less(t, time.Since(start), time.Second)
}

func TestCalibrateSampleRate_ContextCancelled(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, fixedTimeline{duration: 10}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 24.0, c.CalibrateSampleRate(ctx, 24))
}

func TestCalibrateSampleRate_Degenerate(t *testing.T) {
	t.Run("zero duration", func(t *testing.T) {
		svc := &recordingService{}
		c := newTestCoordinator(t, svc, fixedTimeline{duration: 0}, nil)

		assert.Equal(t, 30.0, c.CalibrateSampleRate(context.Background(), 30))
		assert.Empty(t, svc.submitted(), "no probes without a duration")
	})

	t.Run("only index zero", func(t *testing.T) {
		svc := &recordingService{
			respond: func(job core.ExtractionJob) core.JobResult {
				return success(job, 0, 1)
			},
		}
		c := newTestCoordinator(t, svc, fixedTimeline{duration: 10}, nil)

		assert.Equal(t, 30.0, c.CalibrateSampleRate(context.Background(), 30))
	})

	t.Run("non-positive default uses configured", func(t *testing.T) {
		svc := &recordingService{}
		c := newTestCoordinator(t, svc, fixedTimeline{}, nil)

		assert.Equal(t, 10.0, c.CalibrateSampleRate(context.Background(), 0))
	})
}

func TestFrameIndexConversions(t *testing.T) {
	svc := &recordingService{}
	c := newTestCoordinator(t, svc, fixedTimeline{duration: 60, offset: 2}, nil)

	assert.InDelta(t, 30.0, c.FrameIndex(5), 1e-9)
	assert.InDelta(t, 5.0, c.TimeForFrame(30), 1e-9)
	assert.InDelta(t, -20.0, c.FrameIndex(0), 1e-9)
	assert.InDelta(t, 3.0, c.MediaTime(5), 1e-9)
	assert.InDelta(t, c.FrameIndex(5), c.MediaTime(5)*c.Rate(), 1e-9)
}
