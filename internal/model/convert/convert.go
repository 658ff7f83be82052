// Package convert maps calibration records between GORM models and core types
package convert

import (
	"encoding/json"

	"github.com/tracelab/startupcal/internal/model"
	"github.com/tracelab/startupcal/pkg/core"
	"gorm.io/datatypes"
)

// CoreToRecord converts a core.CalibrationRecord to its GORM row.
// A nil user event is stored as NULL.
func CoreToRecord(r core.CalibrationRecord) model.CalibrationRecord {
	var userEvent datatypes.JSON
	if r.UserEvent != nil {
		if b, err := json.Marshal(r.UserEvent); err == nil {
			userEvent = datatypes.JSON(b)
		}
	}

	return model.CalibrationRecord{
		TraceFolder:         r.TraceFolder,
		StartupTime:         r.StartupTime,
		SegmentID:           r.SegmentID,
		UserEvent:           userEvent,
		ManifestRequestTime: r.ManifestRequestTime,
		CommittedAt:         r.CommittedAt.UTC(),
	}
}

// RecordToCore converts a GORM row back to a core.CalibrationRecord.
// An unreadable user event column is dropped rather than failing the load.
func RecordToCore(r model.CalibrationRecord) core.CalibrationRecord {
	var userEvent *core.UserEventRef
	if len(r.UserEvent) > 0 && string(r.UserEvent) != "null" {
		var ref core.UserEventRef
		if err := json.Unmarshal(r.UserEvent, &ref); err == nil {
			userEvent = &ref
		}
	}

	return core.CalibrationRecord{
		TraceFolder:         r.TraceFolder,
		StartupTime:         r.StartupTime,
		SegmentID:           r.SegmentID,
		UserEvent:           userEvent,
		ManifestRequestTime: r.ManifestRequestTime,
		CommittedAt:         r.CommittedAt.UTC(),
	}
}

// CoreToHistory converts a core.CalibrationRecord to a history row
func CoreToHistory(r core.CalibrationRecord) model.CalibrationHistory {
	return model.CalibrationHistory{
		TraceFolder: r.TraceFolder,
		StartupTime: r.StartupTime,
		SegmentID:   r.SegmentID,
		CommittedAt: r.CommittedAt.UTC(),
	}
}
