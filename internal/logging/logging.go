// Package logging builds the zerolog loggers handed to every component.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a timestamped logger writing to w. An unparsable level falls
// back to warn and is reported through the returned error; the logger is
// usable either way.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	var out io.Writer = w
	switch strings.ToLower(format) {
	case "", FormatJSON:
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	default:
		return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.WarnLevel),
			fmt.Errorf("unknown log format %q (expected json or console)", format)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	if level == "" {
		return logger.Level(zerolog.InfoLevel), nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logger.Level(zerolog.WarnLevel), fmt.Errorf("error creating logger: %w", err)
	}
	return logger.Level(lvl), nil
}
