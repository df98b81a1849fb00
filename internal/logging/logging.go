// Package logging configures the shared logrus logger used across the
// server, client, and session packages and the commands, and provides the
// per-session/per-peer contextual loggers they attach fields to.
//
// Adapted from the teacher's internal/logger/logger.go (level,
// color-vs-plain output, WithField/WithFields contextual prefixing),
// rebuilt on top of github.com/sirupsen/logrus the way
// samsamfire-gocanopen threads "log.WithFields(...)"/"log.Warnf(...)"
// through its SDO server instead of hand-rolling the formatter.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
}

// SetVerbose switches the shared logger to debug level when verbose
// output was requested on the CLI.
func SetVerbose(verbose bool) {
	if verbose {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects the shared logger's output, mainly for tests.
func SetOutput(w io.Writer) { base.SetOutput(w) }

// SetJSON switches to a JSON formatter, useful when piping server logs
// to a collector instead of a terminal.
func SetJSON(json bool) {
	if json {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
}

// Entry is a contextual logger carrying a fixed set of fields, the
// logrus analog of the teacher's Logger.WithField chaining.
type Entry = logrus.Entry

// Component returns an Entry with a single "component" field, used by
// top-level subsystems (server, client, cmd/server) that want a consistent
// prefix without per-session fields.
func Component(name string) *Entry {
	return base.WithField("component", name)
}

// ForSession returns an Entry scoped to one session, carrying its id
// and peer address the way every per-session log line should.
func ForSession(sessionID, peer string) *Entry {
	return base.WithFields(logrus.Fields{"session": sessionID, "peer": peer})
}

// L exposes the bare shared logger for call sites with no natural
// session/component scope (e.g. command-line argument errors).
func L() *logrus.Logger { return base }
