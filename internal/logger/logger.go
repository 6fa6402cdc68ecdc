package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the application logger: human-readable console output outside
// production, JSON lines in production. level overrides the environment's
// default level when it parses.
func New(env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	lvl := zerolog.InfoLevel
	if env != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "anpr-stream").
		Logger()
}
