// pkg/core/calibration.go
package core

import "time"

// UserEventRef identifies the user event chosen alongside a calibration.
type UserEventRef struct {
	Type string  `json:"type"`
	Time float64 `json:"time"`
}

// CalibrationRecord is the committed startup-time calibration of a trace.
type CalibrationRecord struct {
	TraceFolder         string        `json:"traceFolder"`
	StartupTime         float64       `json:"startupTime"`
	SegmentID           int           `json:"segmentId"`
	UserEvent           *UserEventRef `json:"userEvent,omitempty"`
	ManifestRequestTime float64       `json:"manifestRequestTime"`
	CommittedAt         time.Time     `json:"committedAt"`
}

// Apply writes the calibration into the trace.
func (r CalibrationRecord) Apply(t *TraceResult) {
	rec := r
	t.StartupTime = r.StartupTime
	t.Calibration = &rec
}
