// Package logging configures the zerolog logger used across prcover.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLevel applies when no level is configured.
const DefaultLevel = zerolog.WarnLevel

// New creates a logger writing to w at the given level ("debug", "info",
// ...). Unknown or empty levels fall back to DefaultLevel. When pretty is
// set the output is human readable instead of JSON lines.
func New(w io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = DefaultLevel
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: !IsTerminal(w)}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// SetLevel sets the process-wide minimum level. Loggers built by New
// still filter at their own level on top of it.
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	if level == "" {
		lvl = DefaultLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Setup builds a logger for stderr, pretty when stderr is a terminal, and
// installs it as the global zerolog logger.
func Setup(level string) zerolog.Logger {
	logger := New(os.Stderr, level, IsTerminal(os.Stderr))
	log.Logger = logger
	return logger
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
