package selection

import "sync"

// StaticPlayback is a Playback without a player behind it: it only remembers the
// last media time. Used when calibrating from the command line.
type StaticPlayback struct {
	duration float64
	offset   float64

	mu        sync.Mutex
	mediaTime float64
}

// NewStaticPlayback creates a StaticPlayback over a recording of the given duration
// that starts offset seconds into the trace.
func NewStaticPlayback(duration, offset float64) *StaticPlayback {
	return &StaticPlayback{duration: duration, offset: offset}
}

func (p *StaticPlayback) Duration() float64    { return p.duration }
func (p *StaticPlayback) VideoOffset() float64 { return p.offset }

func (p *StaticPlayback) MediaTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaTime
}

func (p *StaticPlayback) SetMediaTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mediaTime = seconds
}
