package audioboot

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// NewLogger returns the logger every component hangs off.  level is one of
// debug, info, warn, error.
func NewLogger(w io.Writer, level string) (*log.Logger, error) {
	var lvl = log.InfoLevel
	if level != "" {
		var parsed, err = log.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", level)
		}
		lvl = parsed
	}

	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "audioboot",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}), nil
}

// discardLogger is for tests and for callers that do not care.
func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
