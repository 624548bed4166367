// Package logger builds the application's structured logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level   string // debug, info, warn, error
	Pretty  bool   // Enable pretty console output
	LogsDir string // If set, error-level events are also written to logs/error-YYYY-MM-DD.log (JSONL)
}

// New creates a new structured logger
func New(cfg Config) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	// Configure output
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	if cfg.LogsDir != "" {
		if errWriter, err := newErrorFileWriter(cfg.LogsDir); err == nil {
			output = zerolog.MultiLevelWriter(output, errWriter)
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

// errorFileWriter appends error-level events to a per-day JSONL file.
// The file is reopened when the date rolls over.
type errorFileWriter struct {
	dir  string
	date string
	file *os.File
}

func newErrorFileWriter(dir string) (*errorFileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	return &errorFileWriter{dir: dir}, nil
}

// Write satisfies io.Writer. Level filtering happens in WriteLevel; plain
// writes (no level information) are dropped.
func (w *errorFileWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel satisfies zerolog.LevelWriter.
func (w *errorFileWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel {
		return len(p), nil
	}

	today := time.Now().Format("2006-01-02")
	if w.file == nil || w.date != today {
		if w.file != nil {
			_ = w.file.Close()
		}
		path := filepath.Join(w.dir, "error-"+today+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return len(p), nil // Never fail the primary log path
		}
		w.file = f
		w.date = today
	}

	if _, err := w.file.Write(p); err != nil {
		return len(p), nil
	}
	return len(p), nil
}
