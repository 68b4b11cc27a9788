// Package cadrelog provides CADRE's logging infrastructure built on
// charmbracelet/log. It wraps the library to provide a centralized logger
// factory with component prefixes, level configuration, and stderr-only
// output so stdout stays reserved for the structured run report.
//
// Usage:
//
//	cadrelog.Setup(verbose, quiet, jsonFormat)
//	logger := cadrelog.New("fleet")
//	logger.Info("starting run", "issues", len(issues))
//
// Setup must be called before New so child loggers inherit the right level
// and formatter; charmbracelet/log copies state at child-creation time.
package cadrelog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases re-exported so consumers need not import charmbracelet/log.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// Setup configures the global logging defaults. Call once during CLI or
// library initialization.
//
// If both verbose and quiet are set, quiet wins: in unattended fleet runs,
// --quiet should always suppress noise regardless of other flags.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. An empty component
// string produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful for tests capturing output into a bytes.Buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
