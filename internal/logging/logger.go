package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level      slog.Level
	OutputFile string // empty = stdout only
	JSONFormat bool
	AddSource  bool
}

var (
	setupOnce sync.Once
	logFile   *os.File
)

// Setup configures the process-wide slog default. Components derive their
// own loggers with slog.Default().With("component", ...).
func Setup(cfg Config) error {
	var setupErr error
	setupOnce.Do(func() {
		writers := []io.Writer{os.Stdout}
		if cfg.OutputFile != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
				setupErr = fmt.Errorf("failed to create log directory: %w", err)
				return
			}
			f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				setupErr = fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
				return
			}
			logFile = f
			writers = append(writers, f)
		}

		opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
		var handler slog.Handler
		if cfg.JSONFormat {
			handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
		} else {
			handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
		}
		slog.SetDefault(slog.New(handler))
	})
	return setupErr
}

// Close closes the log file if one is open.
func Close() error {
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// DefaultConfig returns JSON logging at INFO when debug is off, and text
// logging at DEBUG with source locations when debug is on.
func DefaultConfig(debug bool) Config {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return Config{
		Level:      level,
		JSONFormat: !debug,
		AddSource:  debug,
	}
}
