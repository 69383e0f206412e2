// Package logging configures the process-wide logrus logger used by every
// other package in this module. The generator itself treats logging as an
// external collaborator (spec §1), but it still needs somewhere to send
// WARNING/NOTICE/INFO/DEBUG lines the way ckpool's LOGWARNING/LOGINFO/LOGDEBUG
// macros did, so this gives every package one shared, structured logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// std is the process-wide logger. Packages that need a logger call
// logging.Logger() rather than holding a package-level *logrus.Logger so
// that Configure can swap output/level at startup.
var std = logrus.New()

func init() {
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	std.SetLevel(logrus.InfoLevel)
}

// Logger returns the shared logger.
func Logger() *logrus.Logger {
	return std
}

// Configure sets the logger's level and output, parsing level the same way
// logrus.ParseLevel does ("debug", "info", "warning", "error" ...). An empty
// level leaves the level untouched.
func Configure(level string, out io.Writer) error {
	if out != nil {
		std.SetOutput(out)
	}
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	return nil
}

// NewFileLogger opens path for appending and redirects the shared logger to
// it, additionally teeing to stderr so `poolgend` run interactively still
// shows log output.
func NewFileLogger(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	std.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}
