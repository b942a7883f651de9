// Package telemetry provides the structured logger used across every
// orchestration-core package. It mirrors the layered approach of the
// teacher's telemetry.TelemetryLogger: console output always works, a
// component tag routes the line to the right subsystem, and error logging
// is rate-limited so a breaker storm doesn't flood stdout.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the logging contract every component depends on. Components
// take a Logger, never a concrete type, so tests can inject a recording
// logger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
	WithComponent(component string) Logger
}

type correlationKey struct{}

// WithCorrelationID stashes a correlation id on the context so loggers and
// the audit trail can stitch a single decision's log lines together.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id previously attached to ctx, or
// "" if none was set.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationKey{}).(string)
	return v
}

// StructuredLogger is the production Logger implementation.
type StructuredLogger struct {
	level     string
	debug     bool
	service   string
	component string
	format    string
	output    io.Writer
	mu        *sync.RWMutex
	errLimit  *RateLimiter
}

// New creates the root logger for serviceName. Configuration priority:
// explicit env vars, then Kubernetes auto-detection, then defaults.
func New(serviceName string) *StructuredLogger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := os.Getenv("DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		format = f
	}

	return &StructuredLogger{
		level:    strings.ToUpper(level),
		debug:    debug,
		service:  serviceName,
		format:   format,
		output:   os.Stdout,
		mu:       &sync.RWMutex{},
		errLimit: NewRateLimiter(time.Second),
	}
}

func (l *StructuredLogger) WithComponent(component string) Logger {
	return &StructuredLogger{
		level:     l.level,
		debug:     l.debug,
		service:   l.service,
		component: component,
		format:    l.format,
		output:    l.output,
		mu:        l.mu,
		errLimit:  l.errLimit,
	}
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	if l.errLimit != nil && !l.errLimit.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withCorrelation(ctx, fields))
}

func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.errLimit != nil && !l.errLimit.Allow() {
		return
	}
	l.log("ERROR", msg, withCorrelation(ctx, fields))
}

func withCorrelation(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id := CorrelationID(ctx)
	if id == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["correlation_id"] = id
	return out
}

func (l *StructuredLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(ts, level, msg, fields)
	} else {
		l.logText(ts, level, msg, fields)
	}
}

func (l *StructuredLogger) logJSON(ts, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": ts,
		"level":     level,
		"service":   l.service,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; !reserved {
			entry[k] = v
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *StructuredLogger) logText(ts, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s %s\n", ts, level, l.service, l.component, msg, b.String())
}

func (l *StructuredLogger) shouldLog(level string) bool {
	order := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	cur, ok1 := order[l.level]
	msg, ok2 := order[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}

// SetOutput redirects log output; used by tests to capture lines.
func (l *StructuredLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// NoOp is a Logger that discards everything, used as a safe zero-value
// default for components constructed without an explicit logger.
type NoOp struct{}

func (NoOp) Info(string, map[string]interface{})                             {}
func (NoOp) Warn(string, map[string]interface{})                             {}
func (NoOp) Error(string, map[string]interface{})                            {}
func (NoOp) Debug(string, map[string]interface{})                            {}
func (NoOp) InfoContext(context.Context, string, map[string]interface{})     {}
func (NoOp) ErrorContext(context.Context, string, map[string]interface{})    {}
func (n NoOp) WithComponent(string) Logger                                   { return n }
