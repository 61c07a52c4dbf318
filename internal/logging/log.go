// Package logging sets up the zerolog logger shared across the node,
// matching the console-writer + env-var level convention the rest of the
// codebase was written against.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLevel = zerolog.InfoLevel

	writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
)

func init() {
	switch os.Getenv("MESHCHAT_LOG") {
	case "warn":
		defaultLevel = zerolog.WarnLevel
	case "debug":
		defaultLevel = zerolog.DebugLevel
	case "no":
		defaultLevel = zerolog.Disabled
	}
}

// New returns a logger tagged with role, at the level configured by the
// MESHCHAT_LOG environment variable (one of "debug", "warn", "no"; anything
// else, including unset, defaults to info).
func New(role string) zerolog.Logger {
	return zerolog.New(writer).
		Level(defaultLevel).
		With().Timestamp().Logger().
		With().Str("role", role).Logger()
}
