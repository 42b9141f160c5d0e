// Package log provides the structured logging facade used by the search
// engine. It defines a minimal, slog-compatible interface backed by zerolog
// by default, so callers can swap in another implementation (or a capture
// logger in tests) without touching call sites.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	scierrors "github.com/scisearch/scisearch/pkg/errors"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Common structured attribute keys.
const (
	OperationKey  = "operation"
	CandidatesKey = "n_candidates"
	SplitsKey     = "n_splits"
	SamplesKey    = "n_samples"
	FeaturesKey   = "n_features"
	ScoreKey      = "score"
	DurationMsKey = "duration_ms"
	BackendKey    = "backend"
	WorkDirKey    = "workdir"
)

// Logger is a structured logging interface compatible with log/slog
// conventions: a message followed by alternating key/value fields.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a logger with the given fields pre-populated.
	With(fields ...any) Logger
}

var (
	mu            sync.RWMutex
	defaultLogger Logger = NewZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the process-wide logger and routes library warnings
// through it.
func SetLogger(l Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	scierrors.SetZerologWarnFunc(func(w error) {
		l.Warn("warning", "warning", w.Error())
	})
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger wraps a zerolog.Logger.
func NewZerologLogger(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

func (z *ZerologLogger) Debug(msg string, fields ...any) { z.emit(z.zl.Debug(), msg, fields) }
func (z *ZerologLogger) Info(msg string, fields ...any)  { z.emit(z.zl.Info(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields ...any)  { z.emit(z.zl.Warn(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields ...any) { z.emit(z.zl.Error(), msg, fields) }

// With implements Logger.With.
func (z *ZerologLogger) With(fields ...any) Logger {
	ctx := z.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		ctx = ctx.Interface(keyOf(fields[i]), fields[i+1])
	}
	return &ZerologLogger{zl: ctx.Logger()}
}

func (z *ZerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		e = e.Interface(keyOf(fields[i]), fields[i+1])
	}
	e.Msg(msg)
}

func keyOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
