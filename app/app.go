// Package app holds the per-process BirdQuest application context.
package app

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"birdquest/config"
	"birdquest/db"
)

// App is built once at startup and handed to the bootstrapper and the
// listener. The database is opened on first use of DB.
type App struct {
	Config config.Config
	Log    *zap.SugaredLogger

	instancePath string

	mu    sync.Mutex
	db    *gorm.DB
	store *db.SQLStore
}

// New resolves the instance path against the working directory.
func New(cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	instancePath, err := filepath.Abs(cfg.InstancePath)
	if err != nil {
		return nil, fmt.Errorf("resolve instance path %q: %w", cfg.InstancePath, err)
	}
	return &App{Config: cfg, Log: log, instancePath: instancePath}, nil
}

func (a *App) InstancePath() string { return a.instancePath }

func (a *App) DatabaseURI() string { return a.Config.DatabaseURI }

// DatabasePath is the sqlite file the app reads and writes.
func (a *App) DatabasePath() (string, error) {
	return db.DatabasePath(a.instancePath, a.Config.DatabaseURI)
}

// DB opens the database the first time it is called and returns the same
// handle afterwards.
func (a *App) DB() (*gorm.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db, nil
	}
	path, err := a.DatabasePath()
	if err != nil {
		return nil, err
	}
	gdb, err := db.OpenSQLite(path, db.NewGormLogger(a.Log, a.Config.Debug))
	if err != nil {
		return nil, err
	}
	a.db = gdb
	a.store = db.NewSQLStore(gdb)
	return gdb, nil
}

// Store returns the store over the opened database.
func (a *App) Store() (*db.SQLStore, error) {
	if _, err := a.DB(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store, nil
}

// Close releases the database connection if one was opened.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	a.db, a.store = nil, nil
	return sqlDB.Close()
}
