// Package logging provides a JSON structured logger implementing
// transaction.Logger, trimmed from the teacher's advanced/logging package
// down to construction plus leveled Write - no log search, no streaming,
// no context.Context metadata extraction, since nothing in this core needs
// any of that.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"darkstar/access/transaction"
)

// Level is the logger's minimum severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "info", ...) into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Entry is one structured log record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// JSONOutput writes entries as newline-delimited JSON to an io.Writer.
type JSONOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONOutput wraps w as a JSON log sink.
func NewJSONOutput(w io.Writer) *JSONOutput {
	return &JSONOutput{w: w}
}

func (j *JSONOutput) write(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("logging: marshaling entry: %w", err)
	}
	_, err = j.w.Write(append(data, '\n'))
	return err
}

// TextOutput writes entries as a single human-readable line.
type TextOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextOutput wraps w as a plain-text log sink.
func NewTextOutput(w io.Writer) *TextOutput {
	return &TextOutput{w: w}
}

func (t *TextOutput) write(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("%s [%s] %s: %s", e.Timestamp.Format(time.RFC3339), e.Level, e.Component, e.Message)
	for k, v := range e.Fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	_, err := fmt.Fprintln(t.w, line)
	return err
}

type output interface {
	write(Entry) error
}

// StructuredLogger implements transaction.Logger.
type StructuredLogger struct {
	level     Level
	component string
	out       output
}

// New creates a StructuredLogger at the given level and component,
// writing JSON to stdout unless WithTextOutput/WithWriter override it.
func New(level Level, component string, opts ...Option) *StructuredLogger {
	l := &StructuredLogger{level: level, component: component, out: NewJSONOutput(os.Stdout)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Option configures a StructuredLogger at construction time.
type Option func(*StructuredLogger)

// WithWriter sends JSON output to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(l *StructuredLogger) { l.out = NewJSONOutput(w) }
}

// WithTextOutput sends plain-text output to w instead of JSON to stdout.
func WithTextOutput(w io.Writer) Option {
	return func(l *StructuredLogger) { l.out = NewTextOutput(w) }
}

// WithComponent returns a copy of l scoped to a different component name.
func (l *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return &StructuredLogger{level: l.level, component: component, out: l.out}
}

func (l *StructuredLogger) log(level Level, msg string, fields []transaction.Field) {
	if level < l.level {
		return
	}
	fieldMap := make(map[string]any, len(fields))
	for _, f := range fields {
		fieldMap[f.Key] = f.Value
	}
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    fieldMap,
	}
	if err := l.out.write(entry); err != nil {
		fmt.Fprintf(os.Stderr, "logging: failed to write entry: %v\n", err)
	}
}

func (l *StructuredLogger) Debug(msg string, fields ...transaction.Field) { l.log(Debug, msg, fields) }
func (l *StructuredLogger) Info(msg string, fields ...transaction.Field)  { l.log(Info, msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields ...transaction.Field)  { l.log(Warn, msg, fields) }
func (l *StructuredLogger) Error(msg string, fields ...transaction.Field) { l.log(Error, msg, fields) }

var _ transaction.Logger = (*StructuredLogger)(nil)
