// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level slog.Level
	// File, when set, receives JSON logs rotated by size.
	File string
}

// ConsoleHandler writes human-readable logs, colored when out is a terminal.
func ConsoleHandler(out io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(out, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if _, ok := attr.Value.Any().(error); attr.Key == "err" || ok {
				return tint.Attr(9, attr)
			}
			return attr
		},
		TimeFormat: time.DateTime,
		NoColor:    !useColors(out),
	})
}

func useColors(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isatty.IsTerminal(f.Fd()) && os.Getenv("TERM") != "dumb"
}

// New builds the handler described by opts. The returned closer flushes the log file, if any.
func New(console io.Writer, opts Options) (slog.Handler, io.Closer) {
	handler := ConsoleHandler(console, opts.Level)
	if opts.File == "" {
		return handler, nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	return slogmulti.Fanout(
		handler,
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: opts.Level}),
	), file
}

// Setup installs the handler as slog's default.
func Setup(opts Options) io.Closer {
	handler, closer := New(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
