// internal/storage/storage.go
package storage

import (
	"errors"

	"github.com/tracelab/startupcal/pkg/core"
)

// ErrNotFound is returned by Load when no calibration was ever saved for a trace folder.
var ErrNotFound = errors.New("calibration record not found")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Calibration records, one per trace folder; Save overwrites
	Save(traceFolder string, rec core.CalibrationRecord) error
	Load(traceFolder string) (core.CalibrationRecord, error)
}

// Locator is an optional interface for backends that keep each record in a file
// next to its trace.
type Locator interface {
	RecordPath(traceFolder string) string
}

// HistoryProvider is an optional interface for backends that keep every commit.
type HistoryProvider interface {
	History(traceFolder string) ([]core.CalibrationRecord, error)
}
