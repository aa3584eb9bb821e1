package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Logs gives tests access to the entries written by an observer logger.
type Logs interface {
	Len() int
	All() []observer.LoggedEntry
	TakeAll() []observer.LoggedEntry

	// FilterMessage keeps the entries whose message is msg.
	FilterMessage(msg string) *observer.ObservedLogs

	// FilterField keeps the entries carrying field.
	FilterField(field zapcore.Field) *observer.ObservedLogs
}

var _ Logs = (*observer.ObservedLogs)(nil)

// NewObserverLogger returns a Logger that records entries at level and above in
// memory instead of writing them. An unknown level records everything.
func NewObserverLogger(level string) (Logger, Logs) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.DebugLevel
	}

	core, logs := observer.New(lvl)
	return &ZapLogger{Logger: zap.New(core)}, logs
}
