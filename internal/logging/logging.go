// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger for the given environment and
// returns it. "development" gets a human-readable console writer at debug
// level; anything else gets newline-delimited JSON at info level.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter is Setup plus an additional writer (e.g. a ring buffer)
// that receives every log line alongside the primary output.
func SetupWithWriter(environment string, additional io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var out io.Writer = os.Stdout
	if environment == "development" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	if additional != nil {
		out = zerolog.MultiLevelWriter(out, additional)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
