package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxBackups = 5
	backupFileExt     = ".bak"
	backupTimeLayout  = "20060102-150405.000000000"
)

// Backup copies the database file at dbPath to <dbPath>.<timestamp>.bak and
// keeps only the newest maxBackups copies. It returns the backup path, or ""
// when there is no file to back up.
func Backup(log *zap.SugaredLogger, dbPath string, maxBackups int, now time.Time) (string, error) {
	info, err := os.Stat(dbPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", dbPath)
	}
	log.Debugf("backup: existing database file size: %d bytes", info.Size())

	backupPath := fmt.Sprintf("%s.%s%s", dbPath, now.Format(backupTimeLayout), backupFileExt)
	if err := copyFile(log, dbPath, backupPath); err != nil {
		return "", fmt.Errorf("failed to create DB backup: %w", err)
	}
	log.Infof("backup: existing database backed up to %s", backupPath)
	pruneOldBackups(log, dbPath, maxBackups)
	return backupPath, nil
}

// copyFile never overwrites dst.
func copyFile(log *zap.SugaredLogger, src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func(source *os.File) {
		if err := source.Close(); err != nil {
			log.Warnf("backup: failed to close file %s: %v", src, err)
		}
	}(source)

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func(destination *os.File) {
		if err := destination.Close(); err != nil {
			log.Warnf("backup: failed to close file %s: %v", dst, err)
		}
	}(destination)

	_, err = destination.ReadFrom(source)
	return err
}

func pruneOldBackups(log *zap.SugaredLogger, dbPath string, max int) {
	dir := filepath.Dir(dbPath)
	prefix := filepath.Base(dbPath) + "."
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("backup: failed to read backup directory: %v", err)
		return
	}

	var backups []string
	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) && strings.HasSuffix(f.Name(), backupFileExt) {
			backups = append(backups, filepath.Join(dir, f.Name()))
		}
	}
	if len(backups) <= max {
		return
	}

	// timestamps sort lexically
	sort.Strings(backups)
	for _, file := range backups[:len(backups)-max] {
		if err := os.Remove(file); err != nil {
			log.Warnf("backup: failed to remove old backup %s: %v", file, err)
		} else {
			log.Infof("backup: removed old backup: %s", file)
		}
	}
}
