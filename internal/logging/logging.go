// internal/logging/logging.go
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the handler built by New.
type Options struct {
	Level  string
	Format string // json or text
	File   string // optional; rotated when set
}

// New builds the application logger. The returned LevelVar can be used to
// change the level at runtime; the closer releases the log file, if any.
func New(opts Options, stdout io.Writer) (*slog.Logger, *slog.LevelVar, io.Closer) {
	logLevel := new(slog.LevelVar)
	SetLevel(opts.Level, logLevel)

	var out io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out, closer = rotator, rotator
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.New(handler), logLevel, closer
}

// Default returns a JSON logger on stdout at info level, for use before the
// configuration is loaded.
func Default() (*slog.Logger, *slog.LevelVar) {
	logger, level, _ := New(Options{Level: "info"}, os.Stdout)
	return logger, level
}

// SetLevel sets v from a level name. Unknown names mean info.
func SetLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
