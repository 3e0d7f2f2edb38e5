// Package logger provides structured, component-tagged logging for the
// core: zerolog underneath, with InfoCF/WarnCF/ErrorCF/DebugCF helpers
// taking a component tag and a map of fields.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
}

// SetOutput redirects all subsequent log output, e.g. to a file during tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum emitted level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(lvl)
}

func event(e *zerolog.Event, component, msg string, fields map[string]interface{}) {
	if component != "" {
		e = e.Str("component", component)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func snapshot() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs an unstructured debug message.
func Debug(msg string) { l := snapshot(); l.Debug().Msg(msg) }

// Info logs an unstructured info message.
func Info(msg string) { l := snapshot(); l.Info().Msg(msg) }

// Warn logs an unstructured warning message.
func Warn(msg string) { l := snapshot(); l.Warn().Msg(msg) }

// Error logs an unstructured error message.
func Error(msg string) { l := snapshot(); l.Error().Msg(msg) }

// DebugCF logs a component-tagged debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	l := snapshot()
	event(l.Debug(), component, msg, fields)
}

// InfoCF logs a component-tagged info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	l := snapshot()
	event(l.Info(), component, msg, fields)
}

// WarnCF logs a component-tagged warning message with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	l := snapshot()
	event(l.Warn(), component, msg, fields)
}

// ErrorCF logs a component-tagged error message with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	l := snapshot()
	event(l.Error(), component, msg, fields)
}
