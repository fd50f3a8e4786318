package persist

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/conarylabs/conary/build"
)

// Logger wraps a zerolog.Logger writing to a single append-only file, with
// a startup/shutdown banner line matching the convention the rest of the
// tree expects to find when grepping a log for "why did this engine
// restart".
type Logger struct {
	zerolog.Logger
	file *os.File
}

// NewLogger opens (or creates) logFilename and returns a Logger that
// appends structured log lines to it, each stamped with RFC3339 time.
func NewLogger(logFilename string) (*Logger, error) {
	f, err := os.OpenFile(logFilename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, build.ExtendErr("unable to open log file", err)
	}
	zl := zerolog.New(f).With().Timestamp().Logger()
	l := &Logger{Logger: zl, file: f}
	l.Info().Msg("STARTUP: conary logging has started")
	return l, nil
}

// Close writes a shutdown banner line and closes the underlying file.
func (l *Logger) Close() error {
	l.Info().Msg("SHUTDOWN: conary logging has terminated")
	return l.file.Close()
}
