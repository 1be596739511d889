package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rfarias/sisaih/internal/config"
)

// Rotation floors applied when the logging config leaves them unset.
const (
	minRotateSizeMB = 10
	minRotateFiles  = 5
)

// New builds the process logger from configuration: text to stderr by
// default, rotating file sink when logging.file is set, always wrapped in the
// redacting handler. The returned closer is non-nil only for file sinks.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)

	var (
		writer io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.File != "" {
		sink, err := newFileSink(cfg)
		if err != nil {
			return nil, nil, err
		}
		writer = sink
		closer = sink
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(handler)), closer, nil
}

// newFileSink wires the rotating sink straight from the logging section of
// the config, creating the log directory on first use.
func newFileSink(cfg config.LoggingConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, fmt.Errorf("prepare log sink %q: %w", cfg.File, err)
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = minRotateSizeMB
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = minRotateFiles
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
	}, nil
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
