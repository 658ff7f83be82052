// Package calibration commits a validated cursor time as the startup time of a
// trace and hands the result to the analyzer and the storage backend.
package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/internal/trace"
	"github.com/tracelab/startupcal/pkg/core"
)

// Cursor is the part of selection.Cursor a commit needs.
type Cursor interface {
	ValidateCommit(t float64) error
	MarkCommitted(t float64) error
	Segment() (core.Segment, bool)
	UserEvent() (core.UserEvent, bool)
}

// Observer is told about every accepted commit, after persistence was attempted.
type Observer interface {
	CalibrationCommitted(rec core.CalibrationRecord, analyzed *core.TraceResult)
}

// Dependencies holds the collaborators of a Propagator.
type Dependencies struct {
	Cursor    Cursor
	Trace     *trace.Context
	Analyzer  Analyzer
	Backend   storage.Backend
	Observers []Observer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Propagator commits calibrations of one trace.
type Propagator struct {
	deps Dependencies
}

// NewPropagator creates a Propagator. Backend and Observers are optional.
func NewPropagator(deps Dependencies) (*Propagator, error) {
	if deps.Cursor == nil {
		return nil, fmt.Errorf("cursor is required")
	}
	if deps.Trace == nil {
		return nil, fmt.Errorf("trace context is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Propagator{deps: deps}, nil
}

// Commit validates cursorTime against the cursor's selections and, when valid,
// records it as the startup time. The analyzer runs exactly once per accepted
// commit. Analyzer and storage failures are logged; the commit stands.
func (p *Propagator) Commit(ctx context.Context, cursorTime float64) (core.CalibrationRecord, error) {
	if err := p.deps.Cursor.ValidateCommit(cursorTime); err != nil {
		return core.CalibrationRecord{}, err
	}

	rec := p.buildRecord(cursorTime)
	log := p.deps.Logger.With("traceFolder", rec.TraceFolder, "startupTime", rec.StartupTime)

	calibrated := p.deps.Trace.Trace().Clone()
	rec.Apply(calibrated)

	analyzed, err := p.deps.Analyzer.Analyze(ctx, calibrated)
	if err != nil || analyzed == nil {
		log.Error("Quality analysis failed, keeping calibrated trace", "error", err)
		analyzed = calibrated
	}

	if err := p.deps.Cursor.MarkCommitted(cursorTime); err != nil {
		return core.CalibrationRecord{}, err
	}
	p.deps.Trace.SetAnalyzed(analyzed)

	if p.deps.Backend != nil {
		if err := p.deps.Backend.Save(rec.TraceFolder, rec); err != nil {
			log.Error("Failed to persist calibration", "error", err)
		}
	}

	for _, o := range p.deps.Observers {
		o.CalibrationCommitted(rec, analyzed)
	}

	log.Info("Calibration committed", "segment", rec.SegmentID, "startupDelay", analyzed.StartupDelay)
	return rec, nil
}

func (p *Propagator) buildRecord(cursorTime float64) core.CalibrationRecord {
	t := p.deps.Trace.Trace()
	rec := core.CalibrationRecord{
		TraceFolder:         t.Folder,
		StartupTime:         cursorTime,
		ManifestRequestTime: t.ManifestRequestTime,
		CommittedAt:         p.deps.Now().UTC(),
	}
	if seg, ok := p.deps.Cursor.Segment(); ok {
		rec.SegmentID = seg.ID
	}
	if ev, ok := p.deps.Cursor.UserEvent(); ok {
		rec.UserEvent = &core.UserEventRef{Type: ev.Type, Time: ev.Time()}
	}
	return rec
}

// Restore loads the persisted calibration of traceFolder.
// It returns storage.ErrNotFound when nothing was committed yet.
func (p *Propagator) Restore(traceFolder string) (core.CalibrationRecord, error) {
	if p.deps.Backend == nil {
		return core.CalibrationRecord{}, fmt.Errorf("%s: %w", traceFolder, storage.ErrNotFound)
	}
	return p.deps.Backend.Load(traceFolder)
}
