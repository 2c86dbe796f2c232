// Package logging builds the process logger: human readable text on
// stdout plus, when a file is configured, rotated JSON lines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	multi "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// File enables the JSON sink. Empty disables it.
	File string
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// Logger wraps slog.Logger with a settable level and the file sink so it
// can be closed on shutdown.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

func New(opts Options) (*Logger, error) {
	level := &slog.LevelVar{}
	if err := SetLevel(level, opts.Level); err != nil {
		return nil, err
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(stdout, handlerOpts)}

	var file *lumberjack.Logger
	if opts.File != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    64,
			MaxBackups: 8,
			MaxAge:     7,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(file, handlerOpts))
	}

	return &Logger{
		Logger: slog.New(multi.Fanout(handlers...)),
		level:  level,
		file:   file,
	}, nil
}

// SetLevel parses debug, info, warn or error. Empty means info.
func SetLevel(v *slog.LevelVar, name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		v.Set(slog.LevelDebug)
	case "", "info":
		v.Set(slog.LevelInfo)
	case "warn", "warning":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

func (l *Logger) SetLevel(name string) error { return SetLevel(l.level, name) }

func (l *Logger) Level() slog.Level { return l.level.Level() }

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
