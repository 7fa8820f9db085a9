package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rollingFile appends to a single file and renames it to a
// timestamped backup once it exceeds maxBytes. Old backups are pruned
// by count and age.
type rollingFile struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration

	file    *os.File
	written int64
}

func newRollingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rollingFile, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rollingFile{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (f *rollingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.open(); err != nil {
		return 0, err
	}
	if f.written+int64(len(p)) > f.maxBytes {
		if err := f.roll(); err != nil {
			return 0, err
		}
		if err := f.open(); err != nil {
			return 0, err
		}
	}
	n, err := f.file.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *rollingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.written = 0
	return err
}

func (f *rollingFile) open() error {
	if f.file != nil {
		return nil
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	f.file = file
	f.written = info.Size()
	return nil
}

// roll renames the active file to path.20060102T150405 and prunes
// stale backups.
func (f *rollingFile) roll() error {
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
	}
	f.written = 0

	if _, err := os.Stat(f.path); err == nil {
		backup := fmt.Sprintf("%s.%s", f.path, time.Now().Format("20060102T150405"))
		if err := os.Rename(f.path, backup); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	f.prune()
	return nil
}

func (f *rollingFile) prune() {
	matches, err := filepath.Glob(f.path + ".*")
	if err != nil {
		return
	}
	sort.Strings(matches) // timestamp suffixes sort oldest first

	cutoff := time.Now().Add(-f.maxAge)
	keepFrom := len(matches) - f.maxBackups
	for i, backup := range matches {
		info, err := os.Stat(backup)
		if err != nil {
			continue
		}
		if i < keepFrom || info.ModTime().Before(cutoff) {
			_ = os.Remove(backup)
		}
	}
}
