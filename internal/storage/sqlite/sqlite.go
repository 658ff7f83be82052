// Package sqlitestorage implements the storage.Backend interface using SQLite, by
// default in memory with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the only SQLite-specific concerns are creating the
// database and the dump loop.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/database"
	gormstorage "github.com/tracelab/startupcal/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new SQLite storage backend. An empty cfg.Path keeps the database in
// memory.
func New(cfg config.SQLiteConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.GetSqliteDBStandalone(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:     db,
		Logger: logger,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		cfg:     cfg,
		log:     logger,
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, closes the embedded GORM backend and writes a
// final dump.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" {
		return b.Dump()
	}
	return nil
}

// Dump writes a point-in-time copy of the database to cfg.DumpPath.
func (b *Backend) Dump() error {
	return database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath)
}

// dumpLoop periodically dumps the SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			} else {
				b.log.Debug("Dumped to disk", "duration", time.Since(start), "path", b.cfg.DumpPath)
			}
		}
	}
}
