// Package selection keeps the calibration cursor and the entries it selects on the
// segment and user-event axes consistent with each other.
package selection

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/matcher"
	"github.com/tracelab/startupcal/pkg/core"
)

var (
	// ErrInvalidCommit is returned when the cursor cannot be committed at the requested time.
	ErrInvalidCommit = errors.New("invalid commit")
	// ErrClosed is returned for any mutation after commit or cancel.
	ErrClosed = errors.New("cursor closed")
)

// State of a Cursor.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateCommitted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateCancelled
}

// Playback is the media player the cursor follows and drives.
type Playback interface {
	Duration() float64
	VideoOffset() float64
	MediaTime() float64
	SetMediaTime(seconds float64)
}

// Snapshot is the cursor as seen by listeners.
type Snapshot struct {
	Time      float64
	State     State
	Segment   *core.Segment
	UserEvent *core.UserEvent
}

// Listener is notified synchronously after every cursor change.
type Listener func(Snapshot)

// Warning reports a stream that had no entry to select at Time.
type Warning struct {
	Stream core.StreamKind
	Time   float64
	Err    error
}

// Dependencies holds the collaborators of a Cursor.
type Dependencies struct {
	Playback   Playback
	Segments   []core.Segment
	UserEvents []core.UserEvent
	Match      config.MatchConfig
	Logger     *slog.Logger
}

const warningBuffer = 16

// Cursor owns the current time of a calibration session and the segment and user
// event selected for it. Each session creates its own Cursor.
type Cursor struct {
	playback  Playback
	tolerance float64
	logger    *slog.Logger

	// sorted copies; the trace's slices are never touched
	segments   []core.Segment
	userEvents []core.UserEvent

	mu               sync.Mutex
	state            State
	time             float64
	segIdx           int
	evIdx            int
	userEventsActive bool
	listeners        []Listener

	warnings chan Warning
}

// New creates an UNINITIALIZED cursor over the given entries.
func New(deps Dependencies) (*Cursor, error) {
	if deps.Playback == nil {
		return nil, fmt.Errorf("playback is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	segments := append([]core.Segment(nil), deps.Segments...)
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].PlayTime < segments[j].PlayTime
	})
	events := append([]core.UserEvent(nil), deps.UserEvents...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time() < events[j].Time()
	})

	return &Cursor{
		playback:         deps.Playback,
		tolerance:        deps.Match.SegmentTolerance,
		logger:           logger,
		segments:         segments,
		userEvents:       events,
		segIdx:           -1,
		evIdx:            -1,
		userEventsActive: len(events) > 0,
		warnings:         make(chan Warning, warningBuffer),
	}, nil
}

// Subscribe registers l for change notifications.
func (c *Cursor) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Warnings delivers NoMatch warnings. Warnings are dropped when nobody drains it.
func (c *Cursor) Warnings() <-chan Warning {
	return c.warnings
}

// Segments returns the segments in play-time order.
func (c *Cursor) Segments() []core.Segment {
	return append([]core.Segment(nil), c.segments...)
}

// UserEvents returns the user events in canonical-time order.
func (c *Cursor) UserEvents() []core.UserEvent {
	return append([]core.UserEvent(nil), c.userEvents...)
}

// SetUserEventsActive switches the user-event axis on or off. An inactive axis keeps
// its selection but is ignored by commit validation.
func (c *Cursor) SetUserEventsActive(active bool) {
	c.mu.Lock()
	c.userEventsActive = active
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// SetTime moves the cursor to t clamped to [0, duration] and reselects the nearest
// segment by play time and the nearest prior user event.
func (c *Cursor) SetTime(t float64) error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrClosed
	}
	warns := c.moveLocked(t)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.afterMove(snap, warns)
	return nil
}

// SyncFromPlayback moves the cursor to the trace time of the player's position.
func (c *Cursor) SyncFromPlayback() error {
	return c.SetTime(c.playback.MediaTime() + c.playback.VideoOffset())
}

func (c *Cursor) clamp(t float64) float64 {
	duration := c.playback.Duration()
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if duration < 0 {
		duration = 0
	}
	return math.Min(t, duration)
}

func (c *Cursor) moveLocked(t float64) []Warning {
	c.time = c.clamp(t)
	if c.state == StateUninitialized {
		c.state = StateActive
	}

	var warns []Warning
	if i, err := matcher.NearestIndex(c.segments, segmentTime, c.time, c.tolerance); err == nil {
		c.segIdx = i
	} else {
		warns = append(warns, Warning{Stream: core.StreamSegments, Time: c.time, Err: err})
	}

	if c.userEventsActive {
		if i, ok := matcher.FloorIndex(c.userEvents, eventTime, c.time); ok {
			c.evIdx = i
		} else {
			warns = append(warns, Warning{Stream: core.StreamUserEvents, Time: c.time, Err: matcher.ErrNoMatch})
		}
	}
	return warns
}

func (c *Cursor) afterMove(snap Snapshot, warns []Warning) {
	// the cursor is in trace time; the player starts VideoOffset seconds in
	c.playback.SetMediaTime(math.Max(0, snap.Time-c.playback.VideoOffset()))
	for _, w := range warns {
		c.logger.Warn("No entry to select, keeping previous selection",
			"stream", w.Stream, "time", w.Time, "error", w.Err)
		select {
		case c.warnings <- w:
		default:
		}
	}
	c.notify(snap)
}

// SelectSegment moves the cursor to the segment's play time and keeps that segment
// selected even if another one is nearer.
func (c *Cursor) SelectSegment(seg core.Segment) error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrClosed
	}
	idx := c.segmentIndex(seg.ID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("segment %d: %w", seg.ID, matcher.ErrNoMatch)
	}
	warns := c.moveLocked(c.segments[idx].PlayTime)
	c.segIdx = idx
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.afterMove(snap, dropStream(warns, core.StreamSegments))
	return nil
}

// SelectUserEvent moves the cursor to the event's canonical time and keeps that
// event selected.
func (c *Cursor) SelectUserEvent(ev core.UserEvent) error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrClosed
	}
	idx := c.eventIndex(ev)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("user event %s at %.3f: %w", ev.Type, ev.Time(), matcher.ErrNoMatch)
	}
	c.userEventsActive = true
	warns := c.moveLocked(ev.Time())
	c.evIdx = idx
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.afterMove(snap, dropStream(warns, core.StreamUserEvents))
	return nil
}

// Restore places the cursor at t with the given segment and user event selected,
// as persisted by an earlier commit. Entries that no longer exist fall back to the
// regular matching at t.
func (c *Cursor) Restore(t float64, segmentID int, ev *core.UserEventRef) error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrClosed
	}
	warns := c.moveLocked(t)
	if idx := c.segmentIndex(segmentID); idx >= 0 {
		c.segIdx = idx
		warns = dropStream(warns, core.StreamSegments)
	}
	if ev != nil {
		if idx := c.eventRefIndex(*ev); idx >= 0 {
			c.evIdx = idx
			warns = dropStream(warns, core.StreamUserEvents)
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.afterMove(snap, warns)
	return nil
}

// ValidateCommit checks that the cursor may be committed at t: it must be ACTIVE
// with a segment selected, t must not precede the end of the segment's download and
// the selected user event, when that axis is active, must not come after t.
func (c *Cursor) ValidateCommit(t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked(t)
}

func (c *Cursor) validateLocked(t float64) error {
	switch {
	case c.state.Terminal():
		return ErrClosed
	case c.state != StateActive:
		return fmt.Errorf("%w: cursor is %s", ErrInvalidCommit, c.state)
	case c.segIdx < 0:
		return fmt.Errorf("%w: no segment selected", ErrInvalidCommit)
	}

	seg := c.segments[c.segIdx]
	if t < seg.EndTS {
		return fmt.Errorf("%w: startup time %.3f before end of segment %d at %.3f",
			ErrInvalidCommit, t, seg.ID, seg.EndTS)
	}
	if c.userEventsActive && c.evIdx >= 0 {
		ev := c.userEvents[c.evIdx]
		if ev.Time() > t {
			return fmt.Errorf("%w: user event %s at %.3f after startup time %.3f",
				ErrInvalidCommit, ev.Type, ev.Time(), t)
		}
	}
	return nil
}

// MarkCommitted moves an ACTIVE cursor that validates at t to COMMITTED.
func (c *Cursor) MarkCommitted(t float64) error {
	c.mu.Lock()
	if err := c.validateLocked(t); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StateCommitted
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Cancel drops the session without committing.
func (c *Cursor) Cancel() error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateCancelled
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Time returns the cursor position.
func (c *Cursor) Time() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// State returns the lifecycle state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Segment returns the selected segment.
func (c *Cursor) Segment() (core.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.segIdx < 0 {
		return core.Segment{}, false
	}
	return c.segments[c.segIdx], true
}

// UserEvent returns the selected user event while that axis is active.
func (c *Cursor) UserEvent() (core.UserEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.userEventsActive || c.evIdx < 0 {
		return core.UserEvent{}, false
	}
	return c.userEvents[c.evIdx], true
}

// Snapshot returns the current cursor view.
func (c *Cursor) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cursor) snapshotLocked() Snapshot {
	s := Snapshot{Time: c.time, State: c.state}
	if c.segIdx >= 0 {
		seg := c.segments[c.segIdx]
		s.Segment = &seg
	}
	if c.userEventsActive && c.evIdx >= 0 {
		ev := c.userEvents[c.evIdx]
		s.UserEvent = &ev
	}
	return s
}

func (c *Cursor) notify(s Snapshot) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (c *Cursor) segmentIndex(id int) int {
	for i, s := range c.segments {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cursor) eventIndex(ev core.UserEvent) int {
	for i, e := range c.userEvents {
		if e == ev {
			return i
		}
	}
	return -1
}

func (c *Cursor) eventRefIndex(ref core.UserEventRef) int {
	for i, e := range c.userEvents {
		if e.Type == ref.Type && e.Time() == ref.Time {
			return i
		}
	}
	return -1
}

func dropStream(warns []Warning, stream core.StreamKind) []Warning {
	out := warns[:0]
	for _, w := range warns {
		if w.Stream != stream {
			out = append(out, w)
		}
	}
	return out
}

func segmentTime(s core.Segment) float64 { return s.PlayTime }

func eventTime(e core.UserEvent) float64 { return e.Time() }
