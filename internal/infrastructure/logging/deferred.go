package logging

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// DefaultDeferredLimit bounds the entries held during one live run.
const DefaultDeferredLimit = 512

type deferredEntry struct {
	ctx    context.Context
	level  zerolog.Level
	msg    string
	fields []interface{}
}

// Deferred holds log entries while the live view owns the terminal and
// replays them once it exits. Entries below the minimum level are discarded
// on arrival; past the limit the oldest entries are dropped and counted.
type Deferred struct {
	mu      sync.Mutex
	limit   int
	min     zerolog.Level
	entries []deferredEntry
	dropped int
}

// NewDeferred creates a holding area. A non-positive limit selects
// DefaultDeferredLimit.
func NewDeferred(limit int, min zerolog.Level) *Deferred {
	if limit <= 0 {
		limit = DefaultDeferredLimit
	}
	return &Deferred{limit: limit, min: min, entries: make([]deferredEntry, 0, limit)}
}

// Logger returns a ports.Logger writing into d.
func (d *Deferred) Logger() ports.Logger {
	return &deferredLogger{target: d}
}

// Len reports how many entries are waiting.
func (d *Deferred) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Replay writes the held entries to delegate in arrival order and empties d.
// Dropped entries are reported with a single warning ahead of the rest.
func (d *Deferred) Replay(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	d.mu.Lock()
	entries := d.entries
	dropped := d.dropped
	d.entries = make([]deferredEntry, 0, d.limit)
	d.dropped = 0
	d.mu.Unlock()

	if dropped > 0 {
		delegate.Warn(context.Background(), "dropped deferred log entries", "dropped", dropped, "limit", d.limit)
	}
	for _, entry := range entries {
		switch entry.level {
		case zerolog.DebugLevel, zerolog.TraceLevel:
			delegate.Debug(entry.ctx, entry.msg, entry.fields...)
		case zerolog.WarnLevel:
			delegate.Warn(entry.ctx, entry.msg, entry.fields...)
		case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
			delegate.Error(entry.ctx, entry.msg, entry.fields...)
		default:
			delegate.Info(entry.ctx, entry.msg, entry.fields...)
		}
	}
}

func (d *Deferred) add(entry deferredEntry) {
	if entry.level < d.min {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.entries) == d.limit {
		copy(d.entries, d.entries[1:])
		d.entries[len(d.entries)-1] = entry
		d.dropped++
		return
	}
	d.entries = append(d.entries, entry)
}

type deferredLogger struct {
	target *Deferred
	fields []interface{}
}

func (l *deferredLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.DebugLevel, msg, fields)
}

func (l *deferredLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.InfoLevel, msg, fields)
}

func (l *deferredLogger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.WarnLevel, msg, fields)
}

func (l *deferredLogger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, zerolog.ErrorLevel, msg, fields)
}

func (l *deferredLogger) With(fields ...interface{}) ports.Logger {
	return &deferredLogger{target: l.target, fields: append(append([]interface{}{}, l.fields...), fields...)}
}

func (l *deferredLogger) log(ctx context.Context, level zerolog.Level, msg string, fields []interface{}) {
	if l.target == nil {
		return
	}
	l.target.add(deferredEntry{
		ctx:    ctx,
		level:  level,
		msg:    msg,
		fields: append(append([]interface{}{}, l.fields...), fields...),
	})
}
