// Package logging builds the process zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

type Options struct {
	Debug bool
	// Output defaults to stderr.
	Output io.Writer
	// Console forces the human readable writer; by default it is used when
	// Output is a terminal.
	Console bool
}

// New returns the root logger.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	console := opts.Console
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		console = true
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component derives a child logger tagged with component=name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
