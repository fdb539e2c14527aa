package kaku

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

// NewLogger builds the diagnostic logger for one of the tools.
// Decoded messages are not logged, they are the program output.
func NewLogger(w io.Writer, prefix string, level string) (*log.Logger, error) {
	var lvl, err = log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}), nil
}

// timestampPrefix is the optional time stamp in front of each output line,
// e.g. "%H:%M:%S".  A bad format gives no time stamp.
func timestampPrefix(format string, now time.Time) string {
	if format == "" {
		return ""
	}

	var formattedTime, err = strftime.Format(format, now)
	if err != nil {
		return ""
	}

	return formattedTime + " "
}
