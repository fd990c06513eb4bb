// Package logging builds the zerolog loggers used by the binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatAuto    = "auto"
)

type Config struct {
	Level     string
	Format    string
	Component string
}

// New returns a logger writing to w, or stderr when w is nil. The auto format
// picks the console writer when w is a terminal.
func New(cfg Config, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	if s := strings.TrimSpace(cfg.Level); s != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case FormatJSON:
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	case "", FormatAuto:
		if isTerminal(w) {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
