package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Logs exposes log entries captured by an observer logger for assertions.
type Logs interface {
	// Len returns the number of captured entries.
	Len() int

	// All returns a copy of every captured entry.
	All() []observer.LoggedEntry

	// TakeAll returns a copy of every captured entry and truncates the
	// underlying slice.
	TakeAll() []observer.LoggedEntry
}

var _ Logs = (*observer.ObservedLogs)(nil)

// NewObserverLogger creates a logger that records entries in memory, returning
// the logger and the captured entries. Intended for tests that assert on
// warn-path behavior.
func NewObserverLogger(level string) (Logger, Logs) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	core, logs := observer.New(lvl)

	return &ZapLogger{zap.New(core)}, logs
}
