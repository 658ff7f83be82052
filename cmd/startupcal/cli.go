package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tracelab/startupcal/internal/api"
	"github.com/tracelab/startupcal/internal/calibration"
	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/database"
	"github.com/tracelab/startupcal/internal/dispatcher"
	"github.com/tracelab/startupcal/internal/extraction"
	"github.com/tracelab/startupcal/internal/influx"
	"github.com/tracelab/startupcal/internal/logging"
	"github.com/tracelab/startupcal/internal/model"
	"github.com/tracelab/startupcal/internal/model/convert"
	"github.com/tracelab/startupcal/internal/monitor"
	"github.com/tracelab/startupcal/internal/session"
	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/pkg/core"

	"github.com/spf13/viper"
)

// showCalibrations prints the persisted record of each trace folder as JSON.
func showCalibrations(traceFolders []string) error {
	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer backend.Close()

	for _, folder := range traceFolders {
		rec, err := backend.Load(folder)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Printf("%s: no calibration\n", folder)
			continue
		}
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if loc, ok := backend.(storage.Locator); ok {
			fmt.Println("stored at", loc.RecordPath(folder))
		}
		if hp, ok := backend.(storage.HistoryProvider); ok {
			history, err := hp.History(folder)
			if err != nil {
				Logger.Warn("Failed to read calibration history", "traceFolder", folder, "error", err)
				continue
			}
			fmt.Printf("%d commits\n", len(history))
			for _, h := range history {
				fmt.Printf("  %s  %.3fs  segment %d\n", h.CommittedAt.Format(time.RFC3339), h.StartupTime, h.SegmentID)
			}
		}
	}
	return nil
}

// readTrace loads a TraceResult from JSON, gzipped when the name ends in .gz.
// The trace folder defaults to the file's directory.
func readTrace(path string) (*core.TraceResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("error opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var tr core.TraceResult
	if err := json.NewDecoder(r).Decode(&tr); err != nil {
		return nil, fmt.Errorf("error decoding trace %s: %w", path, err)
	}
	if tr.Folder == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		tr.Folder = abs
	}
	return &tr, nil
}

// commitCalibration opens a session on a trace, moves the cursor to the given
// startup time and commits it. args: trace file, startup seconds, optional frames dir.
func commitCalibration(ctx context.Context, args []string) error {
	tr, err := readTrace(args[0])
	if err != nil {
		return err
	}
	startup, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid startup time %q: %w", args[1], err)
	}

	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer backend.Close()

	var observers []calibration.Observer
	var influxManager *influx.Manager
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		influxManager = influx.NewManager(ZeroLogger.With().Str("component", "influx").Logger(), influxCfg)
		if err := influxManager.Connect(ctx); err != nil {
			Logger.Error("Failed to connect to InfluxDB", "error", err)
		} else {
			observers = append(observers, influxManager)
		}
		defer influxManager.Close()
	}

	if apiCfg := config.GetAPIConfig(); apiCfg.Upload {
		client := api.New(apiCfg.ServerURL, apiCfg.APIKey, SlogManager.Component("api"))
		if err := client.Healthcheck(); err != nil {
			Logger.Warn("Web frontend unreachable, not uploading", "url", apiCfg.ServerURL, "error", err)
		} else {
			observers = append(observers, client)
		}
	}

	extCfg := config.GetExtractionConfig()
	media := extraction.ServiceConfig{
		OutputDir: extCfg.OutputDir,
		Width:     extCfg.Width,
		Height:    extCfg.Height,
	}
	if len(args) > 2 {
		media.OutputDir = args[2]
	}
	// no frames just means no preview; the commit does not need them
	if err := os.MkdirAll(media.OutputDir, 0755); err != nil {
		return fmt.Errorf("error creating frames dir: %w", err)
	}
	pool := extraction.NewPool(extraction.NewDirDecoder(extCfg.DefaultRate), extCfg.Workers, SlogManager.Component("extraction"))

	sess, err := session.Open(ctx, session.Dependencies{
		Trace:          tr,
		Service:        pool,
		Analyzer:       calibration.DelayAnalyzer{},
		Backend:        backend,
		Observers:      observers,
		Match:          config.GetMatchConfig(),
		Extraction:     extCfg,
		Throttle:       config.GetThrottleConfig(),
		Logger:         SlogManager.Component("session"),
		DispatchLogger: logging.NewDispatcherLogger(ZeroLogger.With().Str("component", "dispatcher").Logger()),
	}, media)
	if err != nil {
		return fmt.Errorf("error opening session: %w", err)
	}
	defer sess.Close()

	monDeps := monitor.Dependencies{
		Source:     sess,
		Logger:     SlogManager.Component("monitor"),
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.txt"),
		Interval:   time.Second,
	}
	if influxManager != nil {
		monDeps.Export = func(rate float64, st extraction.Stats) {
			point := influx.ExtractionPoint(tr.Folder, rate, st, time.Now())
			if err := influxManager.WritePoint(influx.BucketExtraction, point); err != nil {
				Logger.Warn("Failed to export extraction stats", "error", err)
			}
		}
	}
	mon := monitor.NewService(monDeps)
	if err := mon.Start(); err != nil {
		Logger.Warn("Failed to start status monitor", "error", err)
	}
	defer mon.Stop()

	arg := strconv.FormatFloat(startup, 'f', -1, 64)
	if _, err := sess.Dispatch(dispatcher.Event{Command: session.CmdCursorSet, Args: []string{arg}, Timestamp: time.Now()}); err != nil {
		return err
	}
	res, err := sess.Dispatch(dispatcher.Event{Command: session.CmdCommit, Args: []string{arg}, Payload: ctx, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	rec, ok := res.(core.CalibrationRecord)
	if !ok {
		return fmt.Errorf("unexpected commit result %T", res)
	}

	analyzed := sess.Trace().Analyzed()
	fmt.Printf("committed %s: startup %.3fs, segment %d, delay %.3fs\n",
		rec.TraceFolder, rec.StartupTime, rec.SegmentID, analyzed.StartupDelay)
	return nil
}

// migrateBackups copies every calibration found in the sqlite dumps of dir into the
// configured backend. Records already stored with a later commit are kept.
func migrateBackups(dir string) error {
	paths, err := database.GetBackupDBPaths(dir)
	if err != nil {
		return fmt.Errorf("error getting backup database paths: %w", err)
	}
	if len(paths) == 0 {
		fmt.Println("No backups found in", dir)
		return nil
	}

	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer backend.Close()

	migrated := 0
	for _, path := range paths {
		db, err := database.GetSqliteDBStandalone(path)
		if err != nil {
			return fmt.Errorf("error opening %s: %w", path, err)
		}

		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}

		var rows []model.CalibrationRecord
		if err := db.Find(&rows).Error; err != nil {
			closeDB()
			Logger.Warn("Skipping backup without calibrations", "path", path, "error", err)
			continue
		}

		for _, row := range rows {
			rec := convert.RecordToCore(row)
			existing, err := backend.Load(rec.TraceFolder)
			if err == nil && !existing.CommittedAt.Before(rec.CommittedAt) {
				continue
			}
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				closeDB()
				return err
			}
			if err := backend.Save(rec.TraceFolder, rec); err != nil {
				closeDB()
				return fmt.Errorf("error migrating %s: %w", rec.TraceFolder, err)
			}
			migrated++
		}

		closeDB()
		Logger.Info("Migrated backup", "path", path, "records", len(rows))
	}

	fmt.Printf("Migrated %d calibrations from %d backups.\n", migrated, len(paths))
	return nil
}
