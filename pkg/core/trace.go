// pkg/core/trace.go
package core

// Segment is a downloaded video segment.
// StartTS and EndTS bound the download; PlayTime is when playback of the segment began.
type Segment struct {
	ID       int     `json:"id"`
	Quality  string  `json:"quality"`
	StartTS  float64 `json:"startTS"`
	EndTS    float64 `json:"endTS"`
	PlayTime float64 `json:"playTime"`
	Duration float64 `json:"duration"`
}

// Downloaded reports whether the segment finished downloading inside the trace.
func (s Segment) Downloaded() bool {
	return s.EndTS > 0
}

// UserEvent is a touch or key event captured on the device.
type UserEvent struct {
	Type        string  `json:"type"`
	PressTime   float64 `json:"pressTime"`
	ReleaseTime float64 `json:"releaseTime"`
}

// Time returns the press time, or the release time when no press was recorded.
func (e UserEvent) Time() float64 {
	if e.PressTime == 0 {
		return e.ReleaseTime
	}
	return e.PressTime
}

// Direction of a captured packet relative to the device.
type Direction string

const (
	Uplink   Direction = "UPLINK"
	Downlink Direction = "DOWNLINK"
)

// Packet is a single captured network packet.
type Packet struct {
	Timestamp float64   `json:"timestamp"`
	Direction Direction `json:"direction"`
	Size      int       `json:"size"`
	SessionID int       `json:"sessionId"`
}

// Protocol of a transport session.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// Session is a TCP or UDP conversation reconstructed from packets.
type Session struct {
	ID         int      `json:"id"`
	Protocol   Protocol `json:"protocol"`
	RemoteAddr string   `json:"remoteAddr"`
	StartTime  float64  `json:"startTime"`
	EndTime    float64  `json:"endTime"`
}

// Contains reports whether t falls inside the session.
func (s Session) Contains(t float64) bool {
	return t >= s.StartTime && t <= s.EndTime
}

// RouteKind tags the origin of a RouteInfo entry.
type RouteKind string

const (
	RouteWifi     RouteKind = "WIFI"
	RouteCellular RouteKind = "CELLULAR"
	RouteWired    RouteKind = "WIRED"
	RouteVPN      RouteKind = "VPN"
)

// RouteInfo records a change of the active network route.
// All route variants share the same two fields and are matched uniformly.
type RouteInfo struct {
	Kind      RouteKind `json:"kind"`
	Timestamp float64   `json:"timestamp"`
	Address   string    `json:"address"`
}

// TraceResult is the parsed trace a calibration session works on.
type TraceResult struct {
	Folder              string      `json:"folder"`
	Duration            float64     `json:"duration"`
	VideoOffset         float64     `json:"videoOffset"`
	ManifestRequestTime float64     `json:"manifestRequestTime"`
	Segments            []Segment   `json:"segments"`
	UserEvents          []UserEvent `json:"userEvents"`
	Packets             []Packet    `json:"packets"`
	Sessions            []Session   `json:"sessions"`
	Routes              []RouteInfo `json:"routes"`

	// Filled in by calibration and the quality analyzer.
	StartupTime  float64            `json:"startupTime"`
	StartupDelay float64            `json:"startupDelay"`
	Calibration  *CalibrationRecord `json:"calibration,omitempty"`
}

// Clone returns a copy whose slices can be modified independently.
func (t *TraceResult) Clone() *TraceResult {
	if t == nil {
		return nil
	}
	c := *t
	c.Segments = append([]Segment(nil), t.Segments...)
	c.UserEvents = append([]UserEvent(nil), t.UserEvents...)
	c.Packets = append([]Packet(nil), t.Packets...)
	c.Sessions = append([]Session(nil), t.Sessions...)
	c.Routes = append([]RouteInfo(nil), t.Routes...)
	if t.Calibration != nil {
		rec := *t.Calibration
		c.Calibration = &rec
	}
	return &c
}

// SegmentByID returns the segment with the given ID.
func (t *TraceResult) SegmentByID(id int) (Segment, bool) {
	for _, s := range t.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return Segment{}, false
}
