package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a textual level (debug, info, warn, error) into a LogLevel
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error)", s)
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID returns a copy of ctx carrying the given request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID, if any
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// StructuredLogger writes one JSON object per line. It is safe for
// concurrent use; writes to the underlying writer are serialized.
type StructuredLogger struct {
	level    LogLevel
	service  string
	version  string
	hostname string

	mu     sync.Mutex
	output io.Writer

	// console, when set, renders entries through a tint handler instead of JSON
	console *slog.Logger

	exit func(int)
}

// LogEntry is the JSON shape of one log line
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Service    string    `json:"service"`
	Version    string    `json:"version"`
	Hostname   string    `json:"hostname"`
	Message    string    `json:"message"`
	Fields     Fields    `json:"fields,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	File       string    `json:"file,omitempty"`
	Line       int       `json:"line,omitempty"`
	Function   string    `json:"function,omitempty"`
	Error      string    `json:"error,omitempty"`
	StackTrace string    `json:"stack_trace,omitempty"`
}

// New creates a logger writing to w. The caller owns w and closes it.
func New(service, version string, level LogLevel, w io.Writer) *StructuredLogger {
	if w == nil {
		w = io.Discard
	}
	hostname, _ := os.Hostname()

	return &StructuredLogger{
		level:    level,
		service:  service,
		version:  version,
		hostname: hostname,
		output:   w,
		exit:     os.Exit,
	}
}

// Discard returns a logger that drops every entry
func Discard() *StructuredLogger {
	return New("discard", "", FatalLevel+1, io.Discard)
}

// Enabled reports whether entries at level are written
func (l *StructuredLogger) Enabled(level LogLevel) bool {
	return level >= l.level
}

// Debug logs at DEBUG
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs at INFO
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs at WARN
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, WarnLevel, message, fields, nil)
}

// Error logs at ERROR with the caller's location and err attached
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs at FATAL with a stack trace and exits with status 1.
// Deferred calls do not run, so binaries that own a FileSink return errors instead.
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
	l.exit(1)
}

// log is called through exactly one exported method; callerSkip accounts for both frames
const callerSkip = 3

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Service:   l.service,
		Version:   l.version,
		Hostname:  l.hostname,
		Message:   message,
		Fields:    fields,
		RequestID: RequestIDFromContext(ctx),
	}

	if level >= ErrorLevel {
		entry.File, entry.Line, entry.Function = caller(callerSkip)
		if err != nil {
			entry.Error = err.Error()
		}
		if level == FatalLevel {
			entry.StackTrace = stackTrace()
		}
	}

	if l.console != nil {
		l.writeConsole(ctx, level, entry)
		return
	}
	l.write(entry)
}

func (l *StructuredLogger) write(entry LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		// unencodable field values still leave a trace on stderr
		fmt.Fprintf(os.Stderr, "%s [%s] %s %v (log encoding failed: %v)\n",
			entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message, entry.Fields, err)
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write(data)
}

func caller(skip int) (file string, line int, function string) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", 0, ""
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
	}
	return file, line, function
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// WithFields returns a logger that adds fields to every entry
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{logger: l, fields: fields}
}

// ContextLogger is a StructuredLogger bound to a fixed set of fields, such as
// the file and station of one ingestion step. Per-call fields win on key clashes.
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, DebugLevel, message, c.merge(fields), nil)
}

func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, InfoLevel, message, c.merge(fields), nil)
}

func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, WarnLevel, message, c.merge(fields), nil)
}

func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.log(ctx, ErrorLevel, message, c.merge(fields), err)
}

func (c *ContextLogger) merge(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
