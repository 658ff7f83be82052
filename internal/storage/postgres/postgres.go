// Package postgres implements the storage.Backend interface on PostgreSQL.
// Without an injected DB it connects through database.Manager, which falls back to
// a local SQLite file when Postgres is unreachable.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tracelab/startupcal/internal/database"
	gormstorage "github.com/tracelab/startupcal/internal/storage/gorm"
	"github.com/tracelab/startupcal/pkg/core"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB *gorm.DB
	// FallbackPath is the SQLite file used when Postgres cannot be reached.
	FallbackPath string
	Logger       *slog.Logger
	DBLogger     zerolog.Logger
}

// Backend implements storage.Backend on Postgres.
type Backend struct {
	deps  Dependencies
	inner *gormstorage.Backend
	local bool
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init connects if no DB was injected, then migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		m := database.NewManager(b.deps.DBLogger)
		m.SqliteFilePath = b.deps.FallbackPath
		if err := m.Connect(); err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = m.DB
		b.local = m.ShouldSaveLocal
		if b.local {
			b.deps.Logger.Warn("Postgres unreachable, saving calibrations locally", "path", b.deps.FallbackPath)
		}
	}

	b.inner = gormstorage.New(gormstorage.Dependencies{
		DB:     b.deps.DB,
		Logger: b.deps.Logger,
	})
	return b.inner.Init()
}

// Local reports whether Init fell back to SQLite.
func (b *Backend) Local() bool {
	return b.local
}

// Close flushes pending history rows.
func (b *Backend) Close() error {
	if b.inner == nil {
		return nil
	}
	return b.inner.Close()
}

// Save upserts the calibration of traceFolder.
func (b *Backend) Save(traceFolder string, rec core.CalibrationRecord) error {
	if b.inner == nil {
		return fmt.Errorf("postgres backend not initialized")
	}
	return b.inner.Save(traceFolder, rec)
}

// Load returns the calibration of traceFolder.
func (b *Backend) Load(traceFolder string) (core.CalibrationRecord, error) {
	if b.inner == nil {
		return core.CalibrationRecord{}, fmt.Errorf("postgres backend not initialized")
	}
	return b.inner.Load(traceFolder)
}

// History returns every commit of traceFolder.
func (b *Backend) History(traceFolder string) ([]core.CalibrationRecord, error) {
	if b.inner == nil {
		return nil, fmt.Errorf("postgres backend not initialized")
	}
	return b.inner.History(traceFolder)
}
