// Package logger wires log/slog into process-wide run and audit loggers.
// The run logger goes to stdout/stderr or plain files; the audit logger
// writes JSON lines to a size-rotated file so operational events survive
// restarts.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes the run logger and the optional audit sink.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the rotated audit log file.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type globalState struct {
	run     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	setupOnce sync.Once
	setupErr  error
	state     globalState
)

// Init builds the global loggers from cfg. Only the first call takes
// effect; later calls return the first call's error, if any.
func Init(cfg Config) error {
	setupOnce.Do(func() {
		setupErr = setup(cfg)
	})
	if setupErr != nil {
		return setupErr
	}
	if state.run == nil {
		return errors.New("logger not initialised")
	}
	return nil
}

func setup(cfg Config) error {
	sink, err := combineOutputs(cfg.OutputPaths)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level), AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}
	state.run = slog.New(handler)
	state.audit = state.run

	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			return errors.New("audit log path cannot be empty when enabled")
		}
		writer, err := newRollingFile(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			return err
		}
		state.closers = append(state.closers, writer)
		state.audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return nil
}

// combineOutputs opens every configured destination and multiplexes
// them into a single writer. No destinations means stdout.
func combineOutputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			state.closers = append(state.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func levelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the run logger, initialising defaults on first use.
func L() *slog.Logger {
	if state.run == nil {
		_ = Init(Config{})
	}
	return state.run
}

// Audit returns the audit logger. Falls back to the run logger when no
// audit sink is configured.
func Audit() *slog.Logger {
	if state.audit == nil {
		return L()
	}
	return state.audit
}

// Named returns a child logger whose attributes are grouped under name.
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

// Sync closes all file-backed outputs. Call on shutdown.
func Sync() error {
	var err error
	for _, closer := range state.closers {
		err = errors.Join(err, closer.Close())
	}
	state.closers = nil
	return err
}
