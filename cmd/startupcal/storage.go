package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/storage"
	"github.com/tracelab/startupcal/internal/storage/memory"
	pgstorage "github.com/tracelab/startupcal/internal/storage/postgres"
	sqlitestorage "github.com/tracelab/startupcal/internal/storage/sqlite"
	wsstorage "github.com/tracelab/startupcal/internal/storage/websocket"

	"github.com/spf13/viper"
)

// initStorage creates the configured backend and initializes it.
func initStorage() (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
		return nil, err
	}
	return backend, nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		Logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			FallbackPath: filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("%s_%s.db", AppName, SessionStartTime.Format("20060102_150405"))),
			Logger:       SlogManager.Component("storage"),
			DBLogger:     ZeroLogger.With().Str("component", "database").Logger(),
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, SlogManager.Component("storage"))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path)
		return backend, nil

	case "websocket":
		wsCfg := storageCfg.WebSocket
		wsCfg.URL = httpToWS(wsCfg.URL)
		Logger.Info("WebSocket storage backend initialized", "url", wsCfg.URL)
		return wsstorage.New(wsCfg, SlogManager.Component("storage")), nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized")
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
