package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures zerolog's global logger. LOG_LEVEL selects the level
// (default info), LOG_FORMAT=json keeps the default JSON output; anything
// else gets the console writer.
func Init() {
	logFormat := os.Getenv("LOG_FORMAT")
	logLevelStr := os.Getenv("LOG_LEVEL")

	var level zerolog.Level
	switch logLevelStr {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if logFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Info().Str("logFormat", logFormat).Str("logLevel", level.String()).Msg("Logger initialized")
}
