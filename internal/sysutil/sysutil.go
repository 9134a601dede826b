// Package sysutil configures process-wide concerns shared by every command:
// the global zerolog logger and its level.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogOptions configures the global logger.
type LogOptions struct {
	Level   string    // debug|info|warn|error|fatal|panic; anything else means info
	Pretty  bool      // human-readable console output instead of JSON
	Service string    // tagged on every line; empty means "unibabel"
	Version string    // tagged on every line when set
	Out     io.Writer // defaults to os.Stderr
}

// SetupLogger installs the global zerolog logger described by o.
func SetupLogger(o LogOptions) {
	out := o.Out
	if out == nil {
		out = os.Stderr
	}
	if o.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	SetLogLevel(o.Level)

	ctx := zerolog.New(out).With().Timestamp().Str("service", FirstNonEmpty(o.Service, "unibabel"))
	if o.Version != "" {
		ctx = ctx.Str("version", o.Version)
	}
	log.Logger = ctx.Logger()
}

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
