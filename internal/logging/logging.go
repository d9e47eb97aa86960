package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the relayer logs.
type Options struct {
	Service string
	Level   string
	// File, when set, receives a copy of every line with size-based rotation.
	File string
}

// ParseLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Setup configures a logfmt slog.Logger and points the standard library logger at
// the same destination, so packages that log with log.Printf keep their line shape.
// The returned closer flushes the rotating file, if any.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if file := strings.TrimSpace(opts.File); file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	logger := New(out, opts)
	slog.SetDefault(logger)

	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.LUTC)
	log.SetPrefix("")

	return logger, closer
}

// New builds a logger writing to w; tests use it with a buffer.
func New(w io.Writer, opts Options) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.LevelKey {
				return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
			}
			return attr
		},
	})
	logger := slog.New(handler)
	if service := strings.TrimSpace(opts.Service); service != "" {
		logger = logger.With(slog.String("service", service))
	}
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
