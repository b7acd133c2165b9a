// Package logger builds the zerolog root logger every engine component
// derives its scoped logger from.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the root log level and output format.
type Config struct {
	Level  string // debug, info, warn, error; anything else means info
	Pretty bool   // human-readable console output instead of JSON
}

// New builds the root logger. The level is carried on the returned logger
// rather than the global zerolog level, so tests can run quiet loggers next
// to a verbose root. Components attach themselves downstream with
// With().Str("component", ...).
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "psi-engine").
		Logger()
}

// SetGlobalLogger points the zerolog package-level logger at l so stray
// log.Info() calls share the engine's output.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
