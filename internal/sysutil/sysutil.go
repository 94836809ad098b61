// Package sysutil holds process-level helpers used at startup.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerOptions describes the process logger. App, Env and Version are
// stamped on every line so purchase logs from several deployments can share
// one sink.
type LoggerOptions struct {
	Level   string
	Pretty  bool
	App     string
	Env     string
	Version string
}

// ParseLevel maps LOG_LEVEL to a zerolog level. "warning" is accepted for
// warn; blank or unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel || lvl == zerolog.TraceLevel || lvl == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger builds the process logger writing to w: JSON lines, or a
// console writer when opts.Pretty is set.
func NewLogger(w io.Writer, opts LoggerOptions) zerolog.Logger {
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(w).With().Timestamp().Str("app", opts.App).Str("env", opts.Env)
	if opts.Version != "" {
		ctx = ctx.Str("version", opts.Version)
	}
	return ctx.Logger()
}

// SetupLogger installs NewLogger(w, opts) as the global logger at opts.Level.
func SetupLogger(w io.Writer, opts LoggerOptions) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))
	log.Logger = NewLogger(w, opts)
}

// FirstNonEmpty returns the first value that is not blank, unchanged.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
