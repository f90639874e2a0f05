package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/imagehost/service/internal/config"
	"github.com/imagehost/service/internal/db"
	"github.com/imagehost/service/internal/logger"
	"github.com/imagehost/service/internal/upload"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	conn *sql.DB
	svc  *upload.Service
}

// newApp wires config, logging, the history store and the upload service.
// A store that cannot be opened or a backend that fails to configure is
// logged and tolerated; the caller decides whether that is fatal.
func newApp(ctx context.Context) *app {
	cfg, found := config.Load(envFile)
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if !found {
		log.Debug().Str("file", envFile).Msg("no env file loaded, using process environment")
	}

	a := &app{cfg: cfg, log: log}

	// Wire dependencies: store → service
	var store upload.Store
	conn, err := openStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("upload history unavailable, continuing without cache")
	} else {
		a.conn = conn
		store = upload.NewRepository(conn, cfg.DatabaseDriver, cfg.HistoryLimit)
	}

	a.svc = upload.NewService(store, log)

	if backend, ok := cfg.Backend(); ok {
		if err := a.svc.Configure(ctx, backend, cfg.UploadTimeout); err != nil {
			log.Error().Err(err).Msg("storage backend rejected")
		}
	} else {
		log.Warn().Msg("no storage backend configured, set STORAGE_* variables")
	}

	return a
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if err := db.Migrate(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return conn, nil
}

func (a *app) Close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
}
