// Package gwlog builds the gateway's structured logger and a handful of
// shared logging helpers (error context, panic recovery).
package gwlog

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's minimum level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a zerolog.Logger tagged with service=sse-gateway, timestamps,
// and caller info.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "sse-gateway").
		Logger()
}

// Error logs err with msg and arbitrary context fields.
func Error(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Recover logs a recovered panic value with a full stack trace. Call from a
// deferred func in any long-running goroutine that must not take the whole
// process down with it.
func Recover(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
