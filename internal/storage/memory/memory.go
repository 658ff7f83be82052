// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/pkg/core"
)

// Backend keeps calibration records in memory and writes each one to a JSON file
// beside its trace
type Backend struct {
	cfg     config.MemoryConfig
	records map[string]core.CalibrationRecord // keyed by trace folder
	history map[string][]core.CalibrationRecord
	mu      sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	if cfg.FileName == "" {
		cfg.FileName = "startup_calibration.json"
	}
	return &Backend{
		cfg:     cfg,
		records: make(map[string]core.CalibrationRecord),
		history: make(map[string][]core.CalibrationRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// RecordPath returns the file a trace folder's record is written to.
// Records go into the trace folder itself unless an output directory is configured.
func (b *Backend) RecordPath(traceFolder string) string {
	name := b.cfg.FileName
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	if b.cfg.OutputDir != "" {
		return filepath.Join(b.cfg.OutputDir, filepath.Base(traceFolder), name)
	}
	return filepath.Join(traceFolder, name)
}

// Save stores rec and writes it to disk. The in-memory copy is kept even when the
// write fails.
func (b *Backend) Save(traceFolder string, rec core.CalibrationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec.TraceFolder = traceFolder
	b.records[traceFolder] = rec
	b.history[traceFolder] = append(b.history[traceFolder], rec)

	return b.writeFile(b.RecordPath(traceFolder), rec)
}

// Load returns the record of traceFolder, reading it from disk when this process
// has not saved one yet
func (b *Backend) Load(traceFolder string) (core.CalibrationRecord, error) {
	b.mu.RLock()
	rec, ok := b.records[traceFolder]
	b.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := b.readFile(b.RecordPath(traceFolder))
	if errors.Is(err, os.ErrNotExist) {
		return core.CalibrationRecord{}, fmt.Errorf("%s: %w", traceFolder, storage.ErrNotFound)
	}
	if err != nil {
		return core.CalibrationRecord{}, err
	}

	b.mu.Lock()
	b.records[traceFolder] = rec
	b.mu.Unlock()
	return rec, nil
}

// History returns the records saved for traceFolder by this process, oldest first
func (b *Backend) History(traceFolder string) ([]core.CalibrationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.CalibrationRecord(nil), b.history[traceFolder]...), nil
}
