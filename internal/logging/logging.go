// Package logging builds the process logger and hands scoped entries to the
// services.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a text logger writing to out at the given level.
// An empty level means info.
func New(out io.Writer, level string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	l.SetLevel(lv)
	return l, nil
}

// Component scopes a logger entry to one service. A nil parent yields a
// logger that discards everything, which keeps tests quiet.
func Component(parent *logrus.Entry, name string) *logrus.Entry {
	if parent == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		parent = logrus.NewEntry(l)
	}
	return parent.WithField("component", name)
}
