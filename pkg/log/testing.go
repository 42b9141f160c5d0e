package log

import (
	"fmt"
	"strings"
	"sync"
)

type sink struct {
	mu    sync.Mutex
	lines []string
}

// TestLogger captures log output in memory for inspection in tests.
// Loggers derived via With share the parent's capture buffer.
type TestLogger struct {
	level  Level
	out    *sink
	fields []any
}

// NewTestLogger creates a TestLogger capturing messages at or above level.
func NewTestLogger(level Level) *TestLogger {
	return &TestLogger{level: level, out: &sink{}}
}

func (t *TestLogger) Debug(msg string, fields ...any) { t.write(LevelDebug, "DEBUG", msg, fields) }
func (t *TestLogger) Info(msg string, fields ...any)  { t.write(LevelInfo, "INFO", msg, fields) }
func (t *TestLogger) Warn(msg string, fields ...any)  { t.write(LevelWarn, "WARN", msg, fields) }
func (t *TestLogger) Error(msg string, fields ...any) { t.write(LevelError, "ERROR", msg, fields) }

// With implements Logger.With.
func (t *TestLogger) With(fields ...any) Logger {
	return &TestLogger{
		level:  t.level,
		out:    t.out,
		fields: append(append([]any{}, t.fields...), fields...),
	}
}

// Lines returns the captured log lines.
func (t *TestLogger) Lines() []string {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	out := make([]string, len(t.out.lines))
	copy(out, t.out.lines)
	return out
}

// Contains reports whether any captured line contains substr.
func (t *TestLogger) Contains(substr string) bool {
	for _, l := range t.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func (t *TestLogger) write(lvl Level, tag, msg string, fields []any) {
	if lvl < t.level {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" ")
	b.WriteString(msg)
	all := append(append([]any{}, t.fields...), fields...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	t.out.mu.Lock()
	t.out.lines = append(t.out.lines, b.String())
	t.out.mu.Unlock()
}
