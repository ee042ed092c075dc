// Package logging builds the zerolog logger shared by the CLI and server.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New returns a logger tagged with app. LINKSERVER_LOG_FORMAT=json selects
// JSON output, anything else a console writer. LINKSERVER_LOG_LEVEL sets the
// minimum level (default info).
func New(app string) zerolog.Logger {
	return build(os.Stderr, app, os.Getenv("LINKSERVER_LOG_FORMAT"), os.Getenv("LINKSERVER_LOG_LEVEL"))
}

func build(out io.Writer, app, format, level string) zerolog.Logger {
	w := out
	if !strings.EqualFold(strings.TrimSpace(format), "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func parseLevel(v string) zerolog.Level {
	v = strings.TrimSpace(v)
	if v == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
