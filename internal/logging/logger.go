// Package logging provides structured logging for the yinx daemon,
// modeled on a small leveled Logger interface with trace-ID propagation
// through context.Context rather than a global logger singleton.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type traceKey struct{}

// WithTraceID returns a context carrying traceID for later retrieval by
// Logger.Context-aware methods.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace ID stored in ctx, generating a fresh one if
// none is present so every logged request correlates even when the
// caller forgot to seed one.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// Logger is the leveled, structured logging contract used across the
// core pipeline.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)

	DebugCtx(ctx context.Context, msg string, fields ...any)
	InfoCtx(ctx context.Context, msg string, fields ...any)
	WarnCtx(ctx context.Context, msg string, fields ...any)
	ErrorCtx(ctx context.Context, msg string, fields ...any)

	// WithComponent returns a Logger that tags every entry with
	// component, e.g. "blobstore", "reducer".
	WithComponent(component string) Logger
}

// entry is the on-wire JSON shape of one log line.
type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// jsonLogger writes one JSON object per line to an io.Writer, guarded by
// a mutex so concurrent pipeline stages never interleave partial lines.
type jsonLogger struct {
	mu        *sync.Mutex
	out       *os.File
	minLevel  Level
	component string
}

// New creates a Logger writing JSON lines to os.Stderr at minLevel and
// above.
func New(minLevel Level) Logger {
	return &jsonLogger{mu: &sync.Mutex{}, out: os.Stderr, minLevel: minLevel}
}

func (l *jsonLogger) WithComponent(component string) Logger {
	return &jsonLogger{mu: l.mu, out: l.out, minLevel: l.minLevel, component: component}
}

func fieldMap(fields []any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		m[key] = fields[i+1]
	}
	return m
}

func (l *jsonLogger) write(level Level, traceID, msg string, fields []any) {
	if level < l.minLevel {
		return
	}
	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Component: l.component,
		TraceID:   traceID,
		Message:   msg,
		Fields:    fieldMap(fields),
	}
	b, err := json.Marshal(e)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"level":"error","message":"log marshal failed: %v"}`, err))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(b, '\n'))
	if level == Fatal {
		os.Exit(1)
	}
}

func (l *jsonLogger) Debug(msg string, fields ...any) { l.write(Debug, "", msg, fields) }
func (l *jsonLogger) Info(msg string, fields ...any)  { l.write(Info, "", msg, fields) }
func (l *jsonLogger) Warn(msg string, fields ...any)  { l.write(Warn, "", msg, fields) }
func (l *jsonLogger) Error(msg string, fields ...any) { l.write(Error, "", msg, fields) }
func (l *jsonLogger) Fatal(msg string, fields ...any) { l.write(Fatal, "", msg, fields) }

func (l *jsonLogger) DebugCtx(ctx context.Context, msg string, fields ...any) {
	l.write(Debug, TraceID(ctx), msg, fields)
}
func (l *jsonLogger) InfoCtx(ctx context.Context, msg string, fields ...any) {
	l.write(Info, TraceID(ctx), msg, fields)
}
func (l *jsonLogger) WarnCtx(ctx context.Context, msg string, fields ...any) {
	l.write(Warn, TraceID(ctx), msg, fields)
}
func (l *jsonLogger) ErrorCtx(ctx context.Context, msg string, fields ...any) {
	l.write(Error, TraceID(ctx), msg, fields)
}

// Noop returns a Logger that discards everything, used in tests that
// don't care about log output.
func Noop() Logger { return noop{} }

type noop struct{}

func (noop) Debug(string, ...any)                             {}
func (noop) Info(string, ...any)                              {}
func (noop) Warn(string, ...any)                              {}
func (noop) Error(string, ...any)                              {}
func (noop) Fatal(string, ...any)                              {}
func (noop) DebugCtx(context.Context, string, ...any)          {}
func (noop) InfoCtx(context.Context, string, ...any)           {}
func (noop) WarnCtx(context.Context, string, ...any)           {}
func (noop) ErrorCtx(context.Context, string, ...any)          {}
func (n noop) WithComponent(string) Logger                     { return n }
