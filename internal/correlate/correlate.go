// Package correlate answers, for one point in time, which entries of the packet,
// session and route streams of a trace belong to it.
package correlate

import (
	"fmt"
	"sort"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/matcher"
	"github.com/tracelab/startupcal/pkg/core"
)

// Correlation holds the entries matched at Time. Streams without a match within
// tolerance are listed in Misses.
type Correlation struct {
	Time    float64
	Packet  *core.Packet
	Session *core.Session
	Route   *core.RouteInfo
	Misses  []core.StreamKind
}

// Correlator matches cursor times against the side streams of one trace.
type Correlator struct {
	tolerance float64
	packets   []core.Packet
	sessions  []core.Session
	routes    []core.RouteInfo
	byID      map[int]int
}

// New builds a Correlator over sorted copies of the trace's streams.
func New(trace *core.TraceResult, cfg config.MatchConfig) *Correlator {
	c := &Correlator{
		tolerance: cfg.CorrelationTolerance,
		byID:      make(map[int]int),
	}
	if trace == nil {
		return c
	}

	c.packets = append([]core.Packet(nil), trace.Packets...)
	sort.SliceStable(c.packets, func(i, j int) bool { return c.packets[i].Timestamp < c.packets[j].Timestamp })
	c.sessions = append([]core.Session(nil), trace.Sessions...)
	sort.SliceStable(c.sessions, func(i, j int) bool { return c.sessions[i].StartTime < c.sessions[j].StartTime })
	c.routes = append([]core.RouteInfo(nil), trace.Routes...)
	sort.SliceStable(c.routes, func(i, j int) bool { return c.routes[i].Timestamp < c.routes[j].Timestamp })

	for i, s := range c.sessions {
		if _, dup := c.byID[s.ID]; !dup {
			c.byID[s.ID] = i
		}
	}
	return c
}

// At returns the nearest packet, session start and route change around t.
func (c *Correlator) At(t float64) Correlation {
	out := Correlation{Time: t}

	if p, err := matcher.Nearest(c.packets, packetTime, t, c.tolerance); err == nil {
		out.Packet = &p
	} else {
		out.Misses = append(out.Misses, core.StreamPackets)
	}
	if s, err := matcher.Nearest(c.sessions, sessionTime, t, c.tolerance); err == nil {
		out.Session = &s
	} else {
		out.Misses = append(out.Misses, core.StreamSessions)
	}
	if r, err := matcher.Nearest(c.routes, routeTime, t, c.tolerance); err == nil {
		out.Route = &r
	} else {
		out.Misses = append(out.Misses, core.StreamRoutes)
	}
	return out
}

// Nearest finds the entry of one stream nearest to t.
func (c *Correlator) Nearest(kind core.StreamKind, t float64) (core.Sample, error) {
	stream, err := c.Stream(kind)
	if err != nil {
		return core.Sample{}, err
	}
	return matcher.FindNearest(stream, t, c.tolerance)
}

// Stream returns the entries of kind as an event stream.
func (c *Correlator) Stream(kind core.StreamKind) (core.EventStream, error) {
	switch kind {
	case core.StreamPackets:
		return core.NewEventStream(c.packets, packetTime), nil
	case core.StreamSessions:
		return core.NewEventStream(c.sessions, sessionTime), nil
	case core.StreamRoutes:
		return core.NewEventStream(c.routes, routeTime), nil
	default:
		return nil, fmt.Errorf("stream %q is not correlated", kind)
	}
}

// ActiveSessions returns the sessions open at t in start order.
func (c *Correlator) ActiveSessions(t float64) []core.Session {
	last, ok := matcher.FloorIndex(c.sessions, sessionTime, t)
	if !ok {
		return nil
	}
	var out []core.Session
	for _, s := range c.sessions[:last+1] {
		if s.Contains(t) {
			out = append(out, s)
		}
	}
	return out
}

// RouteAt returns the route in effect at t, the latest change at or before t.
func (c *Correlator) RouteAt(t float64) (core.RouteInfo, bool) {
	i, ok := matcher.FloorIndex(c.routes, routeTime, t)
	if !ok {
		return core.RouteInfo{}, false
	}
	return c.routes[i], true
}

// SessionOf returns the session a packet belongs to.
func (c *Correlator) SessionOf(p core.Packet) (core.Session, bool) {
	i, ok := c.byID[p.SessionID]
	if !ok {
		return core.Session{}, false
	}
	return c.sessions[i], true
}

// PacketsBetween returns the packets with from <= timestamp <= to.
func (c *Correlator) PacketsBetween(from, to float64) []core.Packet {
	lo, ok := matcher.CeilingIndex(c.packets, packetTime, from)
	if !ok {
		return nil
	}
	hi, ok := matcher.FloorIndex(c.packets, packetTime, to)
	if !ok || hi < lo {
		return nil
	}
	return append([]core.Packet(nil), c.packets[lo:hi+1]...)
}

func packetTime(p core.Packet) float64 { return p.Timestamp }

func sessionTime(s core.Session) float64 { return s.StartTime }

func routeTime(r core.RouteInfo) float64 { return r.Timestamp }
