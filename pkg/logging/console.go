package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects how entries are rendered
type Format string

const (
	// FormatJSON writes one JSON object per line
	FormatJSON Format = "json"
	// FormatConsole writes human-readable, colorized lines for local runs
	FormatConsole Format = "console"
)

// ParseFormat converts a LOG_FORMAT value into a Format
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatConsole:
		return FormatConsole, nil
	default:
		return FormatJSON, fmt.Errorf("invalid log format %q (allowed: json, console)", s)
	}
}

// NewWithFormat creates a logger writing to w in the given format
func NewWithFormat(format Format, service, version string, level LogLevel, w io.Writer) *StructuredLogger {
	l := New(service, version, level, w)
	if format != FormatConsole {
		return l
	}

	h := tint.NewHandler(l.output, &tint.Options{
		Level:      slogLevel(level),
		TimeFormat: time.Kitchen,
		NoColor:    l.output != io.Writer(os.Stdout),
	})
	l.console = slog.New(h).With("service", service)
	return l
}

// FatalLevel has no slog counterpart and renders above ERROR
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

func (l *StructuredLogger) writeConsole(ctx context.Context, level LogLevel, entry LogEntry) {
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+3)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, entry.Fields[k]))
	}
	if entry.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", entry.RequestID))
	}
	if entry.Error != "" {
		attrs = append(attrs, slog.String("error", entry.Error))
	}
	if entry.File != "" {
		attrs = append(attrs, slog.String("source", fmt.Sprintf("%s:%d", entry.File, entry.Line)))
	}

	l.console.LogAttrs(ctx, slogLevel(level), entry.Message, attrs...)
}
