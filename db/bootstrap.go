package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	SQLiteScheme = "sqlite:///"
	MemoryDSN    = ":memory:"
)

var ErrUnsupportedURI = errors.New("unsupported database URI")

// Runtime is what the bootstrapper needs from the application context.
// DB must not touch the database file until it is first called.
type Runtime interface {
	InstancePath() string
	DatabaseURI() string
	DB() (*gorm.DB, error)
}

// Outcome names the terminal state of a bootstrap run.
type Outcome string

const (
	Unchecked Outcome = ""
	Created   Outcome = "created"
	Verified  Outcome = "verified"
	Recovered Outcome = "recovered"
)

// OK reports whether the store is ready for use.
func (o Outcome) OK() bool {
	switch o {
	case Created, Verified, Recovered:
		return true
	}
	return false
}

// DatabasePath derives the sqlite file path from uri. Relative paths are
// resolved against instancePath.
func DatabasePath(instancePath, uri string) (string, error) {
	if !strings.HasPrefix(uri, SQLiteScheme) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
	name := strings.TrimPrefix(uri, SQLiteScheme)
	if name == "" {
		return "", fmt.Errorf("%w: %q has no file name", ErrUnsupportedURI, uri)
	}
	if name == MemoryDSN || filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Join(instancePath, name), nil
}

// NewGormLogger routes gorm's logging through log. Debug turns on SQL
// tracing; otherwise only errors are reported.
func NewGormLogger(log *zap.SugaredLogger, debug bool) logger.Interface {
	level := logger.Silent
	if debug {
		level = logger.Info
	}
	return logger.New(
		zap.NewStdLog(log.Desugar()),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}

// OpenSQLite opens the sqlite database at path.
func OpenSQLite(path string, l logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: l,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}
	// one connection: sqlite has a single writer and :memory: is per connection
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Bootstrapper makes the BirdQuest store ready before anything else uses it.
type Bootstrapper struct {
	Runtime  Runtime
	Entities []Entity
	Log      *zap.SugaredLogger
}

func NewBootstrapper(rt Runtime, log *zap.SugaredLogger) *Bootstrapper {
	return &Bootstrapper{Runtime: rt, Entities: Entities, Log: log}
}

// EnsureReady creates the instance directory and schema if they are
// missing and verifies every table can be read. If verification fails the
// schema is dropped and recreated, losing all rows.
//
// Filesystem, open, create and drop errors are returned as is; nothing is
// retried.
func (b *Bootstrapper) EnsureReady(ctx context.Context) (Outcome, error) {
	instancePath := b.Runtime.InstancePath()
	dbPath, err := DatabasePath(instancePath, b.Runtime.DatabaseURI())
	if err != nil {
		return Unchecked, err
	}

	if _, err := os.Stat(instancePath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(instancePath, 0o755); err != nil {
			return Unchecked, fmt.Errorf("create instance folder %s: %w", instancePath, err)
		}
		b.Log.Infof("bootstrap: created instance folder %s", instancePath)
	} else if err != nil {
		return Unchecked, fmt.Errorf("stat instance folder %s: %w", instancePath, err)
	}

	existed := fileExists(dbPath)
	if !existed {
		b.Log.Infof("bootstrap: database not found at %s, creating new database", dbPath)
	}

	gdb, err := b.Runtime.DB()
	if err != nil {
		return Unchecked, err
	}
	gdb = gdb.WithContext(ctx)

	if err := CreateMissing(gdb, b.Entities); err != nil {
		return Unchecked, fmt.Errorf("bootstrap: create schema: %w", err)
	}

	if err := Verify(gdb, b.Entities); err != nil {
		b.Log.Warnf("bootstrap: table verification failed: %v", err)
		b.Log.Infof("bootstrap: recreating database tables")
		if err := DropAll(gdb, b.Entities); err != nil {
			return Unchecked, fmt.Errorf("bootstrap: recovery: %w", err)
		}
		if err := CreateMissing(gdb, b.Entities); err != nil {
			return Unchecked, fmt.Errorf("bootstrap: recovery: %w", err)
		}
		b.Log.Infof("bootstrap: database tables recreated")
		return Recovered, nil
	}

	if !existed {
		b.Log.Infof("bootstrap: database and tables created at %s", dbPath)
		return Created, nil
	}
	b.Log.Infof("bootstrap: database verified at %s", dbPath)
	return Verified, nil
}

func fileExists(path string) bool {
	if path == MemoryDSN {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
