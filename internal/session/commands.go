package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tracelab/startupcal/internal/dispatcher"
	"github.com/tracelab/startupcal/pkg/core"
)

// Input commands understood by Session.Dispatch.
const (
	CmdCursorSet       = ":CURSOR:SET:"
	CmdCursorDrag      = ":CURSOR:DRAG:"
	CmdFrameRequest    = ":FRAME:REQUEST:"
	CmdSelectSegment   = ":SELECT:SEGMENT:"
	CmdSelectUserEvent = ":SELECT:USEREVENT:"
	CmdUserEvents      = ":USEREVENTS:ACTIVE:"
	CmdCorrelate       = ":CORRELATE:"
	CmdCommit          = ":COMMIT:"
	CmdCancel          = ":CANCEL:"
)

const frameRequestBuffer = 64

// registerCommands registers all input handlers with the dispatcher.
func (s *Session) registerCommands() {
	d := s.dispatch

	// Cursor moves - sync, the cursor is only mutated from the dispatching goroutine
	d.Register(CmdCursorSet, s.handleCursorSet, dispatcher.Logged())
	d.Register(CmdCursorDrag, s.handleCursorDrag, dispatcher.Logged())
	d.Register(CmdSelectSegment, s.handleSelectSegment, dispatcher.Logged())
	d.Register(CmdSelectUserEvent, s.handleSelectUserEvent, dispatcher.Logged())
	d.Register(CmdUserEvents, s.handleUserEventsActive, dispatcher.Logged())
	d.Register(CmdCorrelate, s.handleCorrelate)

	// Drag-driven frame requests - throttled, then buffered
	d.Register(CmdFrameRequest, s.handleFrameRequest,
		dispatcher.Throttled(s.deps.Throttle.EventsPerSecond),
		dispatcher.Buffered(frameRequestBuffer),
		dispatcher.Logged())

	d.Register(CmdCommit, s.handleCommit, dispatcher.Logged())
	d.Register(CmdCancel, s.handleCancel, dispatcher.Logged())
}

func parseTime(e dispatcher.Event) (float64, error) {
	if len(e.Args) < 1 {
		return 0, fmt.Errorf("%s: missing time argument", e.Command)
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(e.Args[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid time %q: %w", e.Command, e.Args[0], err)
	}
	return t, nil
}

// handleCursorSet moves the cursor and backfills the frame under it.
func (s *Session) handleCursorSet(e dispatcher.Event) (any, error) {
	t, err := parseTime(e)
	if err != nil {
		return nil, err
	}
	if err := s.cursor.SetTime(t); err != nil {
		return nil, err
	}
	if _, err := s.Backfill(s.cursor.Time()); err != nil {
		s.logger.Warn("Frame backfill not requested", "error", err)
	}
	return s.cursor.Snapshot(), nil
}

// handleCursorDrag moves the cursor and leaves frame loading to the throttled
// frame request command.
func (s *Session) handleCursorDrag(e dispatcher.Event) (any, error) {
	t, err := parseTime(e)
	if err != nil {
		return nil, err
	}
	if err := s.cursor.SetTime(t); err != nil {
		return nil, err
	}
	snap := s.cursor.Snapshot()
	_, _ = s.dispatch.Dispatch(dispatcher.Event{
		Command:   CmdFrameRequest,
		Args:      []string{strconv.FormatFloat(snap.Time, 'f', -1, 64)},
		Timestamp: e.Timestamp,
	})
	return snap, nil
}

func (s *Session) handleFrameRequest(e dispatcher.Event) (any, error) {
	t, err := parseTime(e)
	if err != nil {
		return nil, err
	}
	return s.Backfill(t)
}

// handleSelectSegment selects a segment by ID.
func (s *Session) handleSelectSegment(e dispatcher.Event) (any, error) {
	if len(e.Args) < 1 {
		return nil, fmt.Errorf("%s: missing segment id", e.Command)
	}
	id, err := strconv.Atoi(strings.TrimSpace(e.Args[0]))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid segment id %q: %w", e.Command, e.Args[0], err)
	}
	if err := s.cursor.SelectSegment(core.Segment{ID: id}); err != nil {
		return nil, err
	}
	return s.cursor.Snapshot(), nil
}

// handleSelectUserEvent selects a user event given as a payload or as
// [type, canonical time] arguments.
func (s *Session) handleSelectUserEvent(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.UserEvent)
	if !ok {
		if len(e.Args) < 2 {
			return nil, fmt.Errorf("%s: expected type and time", e.Command)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(e.Args[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid time %q: %w", e.Command, e.Args[1], err)
		}
		ev, ok = s.findUserEvent(strings.TrimSpace(e.Args[0]), t)
		if !ok {
			return nil, fmt.Errorf("%s: no %s event at %.3f", e.Command, e.Args[0], t)
		}
	}
	if err := s.cursor.SelectUserEvent(ev); err != nil {
		return nil, err
	}
	return s.cursor.Snapshot(), nil
}

func (s *Session) findUserEvent(typ string, t float64) (core.UserEvent, bool) {
	for _, ev := range s.cursor.UserEvents() {
		if ev.Type == typ && ev.Time() == t {
			return ev, true
		}
	}
	return core.UserEvent{}, false
}

func (s *Session) handleUserEventsActive(e dispatcher.Event) (any, error) {
	if len(e.Args) < 1 {
		return nil, fmt.Errorf("%s: missing flag", e.Command)
	}
	active, err := strconv.ParseBool(strings.TrimSpace(e.Args[0]))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Command, err)
	}
	s.cursor.SetUserEventsActive(active)
	return s.cursor.Snapshot(), nil
}

func (s *Session) handleCorrelate(e dispatcher.Event) (any, error) {
	return s.Correlate(), nil
}

// handleCommit commits at the given time, or at the cursor when none is given.
func (s *Session) handleCommit(e dispatcher.Event) (any, error) {
	t := s.cursor.Time()
	if len(e.Args) > 0 {
		var err error
		if t, err = parseTime(e); err != nil {
			return nil, err
		}
	}
	ctx, ok := e.Payload.(context.Context)
	if !ok {
		ctx = context.Background()
	}
	return s.prop.Commit(ctx, t)
}

func (s *Session) handleCancel(e dispatcher.Event) (any, error) {
	if err := s.cursor.Cancel(); err != nil {
		return nil, err
	}
	return s.cursor.Snapshot(), nil
}
