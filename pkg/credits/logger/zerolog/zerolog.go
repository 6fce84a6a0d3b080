// Package zerolog adapts rs/zerolog to the credits.Logger interface.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/travelmundo/credits/pkg/credits"
)

// Logger forwards credit-service log fields to a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger. Level filtering stays with
// the wrapped logger.
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func (l *Logger) Debug(msg string, fields ...credits.Field) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...credits.Field)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...credits.Field)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...credits.Field) { emit(l.zl.Error(), msg, fields) }

// emit attaches the fields and writes the event. A nil event means the
// level is disabled on the wrapped logger.
func emit(ev *zerolog.Event, msg string, fields []credits.Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}
