package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	writer io.Writer
	level  slog.Level
	file   *lumberjack.Logger
}

// Option customises Setup.
type Option func(*options)

// WithWriter replaces stdout as the primary sink.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.writer = w
		}
	}
}

// WithLevel sets the minimum level emitted.
func WithLevel(level string) Option {
	return func(o *options) {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(strings.TrimSpace(level))); err == nil {
			o.level = parsed
		}
	}
}

// WithFile mirrors every log line into a size-rotated file. An empty path
// leaves file logging disabled.
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if maxSizeMB <= 0 {
			maxSizeMB = 100
		}
		o.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
	}
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	cfg := options{writer: os.Stdout, level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&cfg)
	}
	out := cfg.writer
	if cfg.file != nil {
		out = io.MultiWriter(cfg.writer, cfg.file)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: false,
		Level:     cfg.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
