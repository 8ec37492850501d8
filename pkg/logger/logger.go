package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
	Configure("info", false)
}

// Configure replaces the global logger. JSON output is meant for release
// deployments; otherwise logs go to a colored console writer.
func Configure(levelStr string, jsonOutput bool) {
	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
	}
	if jsonOutput {
		output = os.Stdout
	}

	Log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
	SetLevel(levelStr)
}

// SetLevel sets the log level
func SetLevel(levelStr string) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
	// Packages log through zerolog/log; keep it pointed at the same writer.
	log.Logger = Log
}

// ForRun returns a child logger tagged with a decision run id.
func ForRun(runID string) zerolog.Logger {
	return Log.With().Str("run_id", runID).Logger()
}
