// Package session wires one calibration session together: the cursor over a trace,
// frame extraction around it, the commit path and the input commands that drive
// them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tracelab/startupcal/internal/calibration"
	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/correlate"
	"github.com/tracelab/startupcal/internal/dispatcher"
	"github.com/tracelab/startupcal/internal/extraction"
	"github.com/tracelab/startupcal/internal/logging"
	"github.com/tracelab/startupcal/internal/matcher"
	"github.com/tracelab/startupcal/internal/selection"
	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/internal/trace"
	"github.com/tracelab/startupcal/pkg/core"
)

// Dependencies holds all dependencies of a Session.
type Dependencies struct {
	Trace     *core.TraceResult
	Service   extraction.Service
	Analyzer  calibration.Analyzer
	Backend   storage.Backend
	Observers []calibration.Observer

	// Playback defaults to a static player over the trace's duration and offset.
	Playback selection.Playback

	Match      config.MatchConfig
	Extraction config.ExtractionConfig
	Throttle   config.ThrottleConfig

	Logger *slog.Logger
	// DispatchLogger defaults to Logger.
	DispatchLogger dispatcher.Logger
}

// Session is one open calibration view over a trace.
type Session struct {
	deps   Dependencies
	logger *slog.Logger

	trace      *trace.Context
	cursor     *selection.Cursor
	coord      *extraction.Coordinator
	prop       *calibration.Propagator
	correlator *correlate.Correlator
	dispatch   *dispatcher.Dispatcher

	state     atomic.Int32
	closeOnce sync.Once
}

// Open creates the session, starts extraction on the reference recording,
// measures its sample rate and seeds the cursor from a persisted calibration or
// the first downloaded segment.
func Open(ctx context.Context, deps Dependencies, media extraction.ServiceConfig) (*Session, error) {
	if deps.Trace == nil {
		return nil, fmt.Errorf("trace is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("extraction service is required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = calibration.DelayAnalyzer{}
	}
	if deps.Playback == nil {
		deps.Playback = selection.NewStaticPlayback(deps.Trace.Duration, deps.Trace.VideoOffset)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Session{deps: deps, trace: trace.NewContext(deps.Trace)}
	s.logger = slog.New(logging.NewContextHandler(deps.Logger.Handler(), s.logContext))
	if deps.DispatchLogger == nil {
		deps.DispatchLogger = s.logger
	}
	s.deps = deps

	var err error
	s.cursor, err = selection.New(selection.Dependencies{
		Playback:   deps.Playback,
		Segments:   deps.Trace.Segments,
		UserEvents: deps.Trace.UserEvents,
		Match:      deps.Match,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cursor: %w", err)
	}
	s.cursor.Subscribe(func(snap selection.Snapshot) {
		s.state.Store(int32(snap.State))
	})

	s.coord, err = extraction.NewCoordinator(extraction.Dependencies{
		Service:   deps.Service,
		Timeline:  deps.Playback,
		Logger:    s.logger,
		OnFailure: s.onExtractionFailure,
	}, deps.Extraction)
	if err != nil {
		return nil, fmt.Errorf("creating extraction coordinator: %w", err)
	}
	if err := s.coord.Start(media); err != nil {
		return nil, err
	}

	s.prop, err = calibration.NewPropagator(calibration.Dependencies{
		Cursor:    s.cursor,
		Trace:     s.trace,
		Analyzer:  deps.Analyzer,
		Backend:   deps.Backend,
		Observers: deps.Observers,
		Logger:    s.logger,
	})
	if err != nil {
		s.coord.Close()
		return nil, fmt.Errorf("creating propagator: %w", err)
	}

	s.correlator = correlate.New(deps.Trace, deps.Match)

	s.dispatch, err = dispatcher.New(deps.DispatchLogger)
	if err != nil {
		s.coord.Close()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	s.registerCommands()

	rate := s.coord.CalibrateSampleRate(ctx, deps.Extraction.DefaultRate)
	s.logger.Info("Session opened", "segments", len(deps.Trace.Segments),
		"userEvents", len(deps.Trace.UserEvents), "sampleRate", rate)

	if err := s.seed(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// logContext adds the session's trace folder and cursor state to every log record.
func (s *Session) logContext() []slog.Attr {
	return []slog.Attr{
		slog.String("traceFolder", s.trace.Folder()),
		slog.String("cursor", selection.State(s.state.Load()).String()),
	}
}

// seed places the cursor where the analyst most likely wants to start: the
// persisted calibration if there is one, else the end of the first downloaded
// segment with the last user event before the manifest request.
func (s *Session) seed() error {
	rec, err := s.prop.Restore(s.trace.Folder())
	switch {
	case err == nil:
		s.logger.Info("Restoring persisted calibration", "startupTime", rec.StartupTime, "segment", rec.SegmentID)
		return s.cursor.Restore(rec.StartupTime, rec.SegmentID, rec.UserEvent)
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("Failed to load persisted calibration", "error", err)
	}

	for _, seg := range s.cursor.Segments() {
		if !seg.Downloaded() {
			continue
		}
		var ref *core.UserEventRef
		events := s.cursor.UserEvents()
		if i, ok := matcher.FloorIndex(events, core.UserEvent.Time, s.trace.Trace().ManifestRequestTime); ok {
			ref = &core.UserEventRef{Type: events[i].Type, Time: events[i].Time()}
		}
		s.logger.Debug("Seeding cursor from first downloaded segment", "segment", seg.ID, "time", seg.EndTS)
		return s.cursor.Restore(seg.EndTS, seg.ID, ref)
	}

	s.logger.Info("No downloaded segment to seed the cursor from")
	return nil
}

func (s *Session) onExtractionFailure(job core.ExtractionJob, err error) {
	s.logger.Error("Frame extraction failed",
		"jobID", job.RootID, "start", job.StartTime, "retries", job.RetryCount, "error", err)
}

// frameTarget is the frame shown for trace time t. Times before the recording
// starts show its first frame.
func (s *Session) frameTarget(t float64) float64 {
	return math.Max(0, s.coord.FrameIndex(t))
}

// Backfill requests frames at trace time t unless the cache already holds one
// within one index of it. It reports whether a request was made.
func (s *Session) Backfill(t float64) (bool, error) {
	target := s.frameTarget(t)
	if s.coord.Cache().Has(target, 1) {
		return false, nil
	}
	if err := s.coord.RequestRange(math.Max(0, s.coord.MediaTime(t)), 0, &target); err != nil {
		return false, err
	}
	return true, nil
}

// Frame returns the cached frame closest to trace time t.
func (s *Session) Frame(t float64) (core.FrameSlot, error) {
	return s.coord.Cache().Get(s.frameTarget(t))
}

// Correlate returns the side-stream entries at the cursor.
func (s *Session) Correlate() correlate.Correlation {
	return s.correlator.At(s.cursor.Time())
}

// Dispatch runs one input command.
func (s *Session) Dispatch(e dispatcher.Event) (any, error) {
	return s.dispatch.Dispatch(e)
}

// Cursor returns the session's cursor.
func (s *Session) Cursor() *selection.Cursor {
	return s.cursor
}

// Coordinator returns the session's extraction coordinator.
func (s *Session) Coordinator() *extraction.Coordinator {
	return s.coord
}

// Trace returns the trace context, which holds the analyzed trace after a commit.
func (s *Session) Trace() *trace.Context {
	return s.trace
}

// Correlator returns the side-stream correlator of the trace.
func (s *Session) Correlator() *correlate.Correlator {
	return s.correlator
}

// Commit commits the calibration at t.
func (s *Session) Commit(ctx context.Context, t float64) (core.CalibrationRecord, error) {
	return s.prop.Commit(ctx, t)
}

// Close cancels an uncommitted cursor and shuts extraction down. Results that
// arrive afterwards are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if !s.cursor.State().Terminal() {
			if err := s.cursor.Cancel(); err != nil && !errors.Is(err, selection.ErrClosed) {
				s.logger.Warn("Failed to cancel cursor", "error", err)
			}
		}
		s.dispatch.Close()
		s.coord.Close()

		st := s.coord.Stats()
		s.logger.Info("Session closed", "jobs", st.Submitted, "retries", st.Retries,
			"failures", st.Failures, "frames", st.FramesMerged)
	})
}
