// Package logging provides the structured logger shared by every internal
// component of the playback engine. It wraps zerolog rather than handing out
// a package-level global, so a host application embedding the engine can
// have more than one Player instance with independently configured output.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a leveled, structured logger. It is a thin alias over
// zerolog.Logger so callers never need to import zerolog directly.
type Logger = zerolog.Logger

// New returns a Logger writing JSON lines to w. Pass os.Stderr (or nil for
// a discard logger) from a host application; component field is attached to
// every event emitted through the returned logger.
func New(w io.Writer, component string) Logger {
	if w == nil {
		w = io.Discard
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// NewPretty returns a Logger writing human-readable console output,
// suitable for the demo CLI and local development.
func NewPretty(component string) Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(cw).With().Timestamp().Str("component", component).Logger()
}

// Discard returns a Logger that drops every event. Used as the default when
// a Player is constructed without an explicit WithLogger option.
func Discard() Logger {
	return zerolog.New(io.Discard)
}
