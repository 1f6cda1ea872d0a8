package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// Options configures the zerolog adapter.
type Options struct {
	Writer io.Writer
	Level  string
	// HumanReadable switches from JSON lines to zerolog's console writer.
	HumanReadable bool
	TimeFormat    string
	Layer         string
	Component     string
	Fields        map[string]interface{}
}

// Logger implements ports.Logger using zerolog.
type Logger struct {
	base   zerolog.Logger
	fields []interface{}
	layer  string
}

// New creates a Logger adapter with the supplied options.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	output := writer
	if opts.HumanReadable {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = opts.TimeFormat
		if console.TimeFormat == "" {
			console.TimeFormat = time.RFC3339
		}
		output = console
	}

	builder := zerolog.New(output).Level(level).With().Timestamp()
	for _, key := range sortedKeys(opts.Fields) {
		builder = builder.Interface(key, opts.Fields[key])
	}

	fields := make([]interface{}, 0, 2)
	if opts.Component != "" {
		fields = append(fields, "component", opts.Component)
	}
	layer := opts.Layer
	if layer == "" {
		layer = "infrastructure"
	}

	return &Logger{
		base:   builder.Logger(),
		fields: fields,
		layer:  layer,
	}, nil
}

// NewNoOpLogger returns a logger that discards every entry.
func NewNoOpLogger() ports.Logger {
	return &Logger{base: zerolog.Nop(), layer: "noop"}
}

// WithRunID tags ctx with a fresh correlation id shared by the log lines and
// events of one kettle command, and returns the id.
func WithRunID(ctx context.Context) (context.Context, string) {
	id := ports.GenerateCorrelationID()
	return ports.WithCorrelationID(ctx, id), id
}

// Debug emits a debug log entry.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.DebugLevel, msg, fields...)
}

// Info emits an info log entry.
func (l *Logger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.InfoLevel, msg, fields...)
}

// Warn emits a warning log entry.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.WarnLevel, msg, fields...)
}

// Error emits an error log entry.
func (l *Logger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.ErrorLevel, msg, fields...)
}

// With derives a new logger with persistent fields.
func (l *Logger) With(fields ...interface{}) ports.Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	next := make([]interface{}, len(l.fields), len(l.fields)+len(fields))
	copy(next, l.fields)
	next = append(next, fields...)
	return &Logger{
		base:   l.base,
		fields: next,
		layer:  l.layer,
	}
}

func (l *Logger) log(ctx context.Context, level zerolog.Level, msg string, fields ...interface{}) {
	if l == nil {
		return
	}
	event := l.base.WithLevel(level)
	if event == nil {
		return
	}

	extras := map[string]interface{}{"layer": l.layer}
	if id := ports.GetCorrelationID(ctx); id != "" {
		extras["correlation_id"] = id
	}

	payload := mergeFields(l.fields, fields, extras)
	for i := 0; i+1 < len(payload); i += 2 {
		key := payload[i].(string)
		switch value := payload[i+1].(type) {
		case error:
			event = event.AnErr(key, value)
		default:
			event = event.Interface(key, value)
		}
	}
	event.Msg(msg)
}

func sortedKeys(input map[string]interface{}) []string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeFields flattens key/value lists, later keys overriding earlier ones
// while keeping first-seen order. Extras are appended in key order.
func mergeFields(base []interface{}, additions []interface{}, extras map[string]interface{}) []interface{} {
	store := make(map[string]interface{})
	order := make([]string, 0)

	addPair := func(key string, value interface{}) {
		if key == "" {
			return
		}
		if _, exists := store[key]; !exists {
			order = append(order, key)
		}
		store[key] = value
	}

	process := func(values []interface{}) {
		for i := 0; i+1 < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			addPair(key, values[i+1])
		}
	}

	process(base)
	process(additions)
	for _, key := range sortedKeys(extras) {
		value := extras[key]
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		addPair(key, value)
	}

	result := make([]interface{}, 0, len(order)*2)
	for _, key := range order {
		result = append(result, key, store[key])
	}
	return result
}

// compile-time assurance
var _ ports.Logger = (*Logger)(nil)
