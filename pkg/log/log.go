// Package log provides structured logging for matrixsync built on zerolog.
// It exposes a small fluent API (WithField, WithFields, WithError) so call
// sites stay compact and consistent across the codebase.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

// InitLogger configures the global logger. When pretty is true, output is
// rendered with zerolog's console writer; otherwise raw JSON is written to w.
func InitLogger(w io.Writer, level zerolog.Level, pretty bool) {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Entry is a log entry under construction. Fields accumulate until one of the
// level methods is called.
type Entry struct {
	ctx zerolog.Context
}

// WithField starts an entry with a single field.
func WithField(key string, value interface{}) *Entry {
	return &Entry{ctx: logger.With().Interface(key, value)}
}

// WithFields starts an entry with multiple fields.
func WithFields(fields map[string]interface{}) *Entry {
	return &Entry{ctx: logger.With().Fields(fields)}
}

// WithError starts an entry with an error field.
func WithError(err error) *Entry {
	return &Entry{ctx: logger.With().Err(err)}
}

// WithField adds a field to the entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	e.ctx = e.ctx.Interface(key, value)
	return e
}

// WithFields adds multiple fields to the entry.
func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	e.ctx = e.ctx.Fields(fields)
	return e
}

// WithError adds an error field to the entry.
func (e *Entry) WithError(err error) *Entry {
	e.ctx = e.ctx.Err(err)
	return e
}

// Debug logs the entry at debug level.
func (e *Entry) Debug(msg string) {
	l := e.ctx.Logger()
	l.Debug().Msg(msg)
}

// Info logs the entry at info level.
func (e *Entry) Info(msg string) {
	l := e.ctx.Logger()
	l.Info().Msg(msg)
}

// Warn logs the entry at warn level.
func (e *Entry) Warn(msg string) {
	l := e.ctx.Logger()
	l.Warn().Msg(msg)
}

// Error logs the entry at error level.
func (e *Entry) Error(msg string) {
	l := e.ctx.Logger()
	l.Error().Msg(msg)
}

// Debug logs a message at debug level.
func Debug(msg string) { logger.Debug().Msg(msg) }

// Info logs a message at info level.
func Info(msg string) { logger.Info().Msg(msg) }

// Warn logs a message at warn level.
func Warn(msg string) { logger.Warn().Msg(msg) }

// Error logs a message at error level.
func Error(msg string) { logger.Error().Msg(msg) }
