// Package logging builds the charmbracelet loggers shared by every component.
// Components derive their own logger with WithPrefix so log lines keep the
// "[component] message" shape.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// EnvLevel names the environment variable that selects the log level.
const EnvLevel = "VAULTDRIVE_LOG_LEVEL"

// New returns a root logger writing to w at the given level.
// An unknown or empty level falls back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// FromEnv returns a stderr logger whose level comes from VAULTDRIVE_LOG_LEVEL.
func FromEnv() *log.Logger {
	return New(os.Stderr, os.Getenv(EnvLevel))
}

// ParseLevel maps debug|info|warn|error to a log level.
func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// Or returns l, or a discarding logger when l is nil.
func Or(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
