// Package gormstorage implements the storage.Backend interface on any GORM dialect.
// The latest record per trace folder is upserted synchronously; history rows go
// through a queue drained by a background writer.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracelab/startupcal/internal/model"
	"github.com/tracelab/startupcal/internal/model/convert"
	"github.com/tracelab/startupcal/internal/queue"
	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const schemaVersion = 1

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps    Dependencies
	history *queue.Queue[model.CalibrationHistory]

	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	return &Backend{
		deps:    deps,
		history: queue.New[model.CalibrationHistory](),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the history writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend has no database")
	}
	if err := b.setupDB(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// setupDB migrates tables and records the schema version if missing.
func (b *Backend) setupDB() error {
	db := b.deps.DB
	log := b.deps.Logger

	log.Info("Migrating schema", "dialect", db.Name())
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	var count int64
	if err := db.Model(&model.StoreInfo{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to read store_infos: %w", err)
	}
	if count == 0 {
		if err := db.Create(&model.StoreInfo{SchemaVersion: schemaVersion, CreatedBy: "startupcal"}).Error; err != nil {
			return fmt.Errorf("failed to create store_infos entry: %w", err)
		}
	}

	log.Info("Database setup complete")
	return nil
}

// Close stops the writer goroutine and flushes pending history rows.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return b.flush()
}

// Save upserts the record of traceFolder and queues a history row.
func (b *Backend) Save(traceFolder string, rec core.CalibrationRecord) error {
	rec.TraceFolder = traceFolder
	row := convert.CoreToRecord(rec)

	err := b.deps.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trace_folder"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"startup_time", "segment_id", "user_event",
			"manifest_request_time", "committed_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save calibration for %s: %w", traceFolder, err)
	}

	b.history.Push(convert.CoreToHistory(rec))
	return nil
}

// Load returns the latest record of traceFolder.
func (b *Backend) Load(traceFolder string) (core.CalibrationRecord, error) {
	var row model.CalibrationRecord
	err := b.deps.DB.Where("trace_folder = ?", traceFolder).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.CalibrationRecord{}, fmt.Errorf("%s: %w", traceFolder, storage.ErrNotFound)
	}
	if err != nil {
		return core.CalibrationRecord{}, fmt.Errorf("failed to load calibration for %s: %w", traceFolder, err)
	}
	return convert.RecordToCore(row), nil
}

// History returns every commit of traceFolder, oldest first.
func (b *Backend) History(traceFolder string) ([]core.CalibrationRecord, error) {
	if err := b.flush(); err != nil {
		return nil, err
	}

	var rows []model.CalibrationHistory
	if err := b.deps.DB.Where("trace_folder = ?", traceFolder).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", traceFolder, err)
	}

	out := make([]core.CalibrationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.CalibrationRecord{
			TraceFolder: r.TraceFolder,
			StartupTime: r.StartupTime,
			SegmentID:   r.SegmentID,
			CommittedAt: r.CommittedAt,
		})
	}
	return out, nil
}

// PendingHistory returns the number of history rows not yet written.
func (b *Backend) PendingHistory() int {
	return b.history.Len()
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.flush(); err != nil {
				b.deps.Logger.Error("Failed to write calibration history", "error", err)
			}
		}
	}
}

func (b *Backend) flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	rows := b.history.Drain()
	if len(rows) == 0 {
		return nil
	}
	if err := b.deps.DB.Create(&rows).Error; err != nil {
		// put them back for the next cycle
		b.history.Push(rows...)
		return fmt.Errorf("failed to insert %d history rows: %w", len(rows), err)
	}
	return nil
}
