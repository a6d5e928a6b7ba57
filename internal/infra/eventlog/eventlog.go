// Package eventlog is the shared append-only record of job activity. Every
// entry goes to each configured sink and to an in-memory tail that the
// control API reads back.
package eventlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dispatch/metrics"
)

// Sink stores events somewhere durable.
type Sink interface {
	Append(ctx context.Context, ev domain.Event) error
}

type namedSink struct {
	name string
	sink Sink
}

// Logger fans events out to its sinks. Inline sinks are written under one
// lock so lines from concurrent jobs never interleave. Mirror sinks are fed
// from a bounded queue by a single writer goroutine; when the queue is full
// the event is dropped for the mirrors only. Sink failures are logged and
// dropped.
type Logger struct {
	mu      sync.Mutex
	sinks   []namedSink
	mirrors []namedSink
	tail    []domain.Event
	next    int
	full    bool
	closed  bool
	now     func() time.Time
	timeout time.Duration
	flush   time.Duration
	log     *slog.Logger

	queueSize int
	queue     chan domain.Event
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// Option configures a Logger.
type Option func(*Logger)

// WithSink adds a named sink written inline with every Log call.
func WithSink(name string, s Sink) Option {
	return func(l *Logger) { l.sinks = append(l.sinks, namedSink{name: name, sink: s}) }
}

// WithMirror adds a named sink written in the background.
func WithMirror(name string, s Sink) Option {
	return func(l *Logger) { l.mirrors = append(l.mirrors, namedSink{name: name, sink: s}) }
}

// WithQueueSize sets how many events may wait for the mirrors.
func WithQueueSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithTailSize sets how many recent events are kept in memory.
func WithTailSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.tail = make([]domain.Event, n)
		}
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithFlushTimeout bounds how long Close waits for queued mirror writes.
func WithFlushTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.flush = d
		}
	}
}

// WithLogger sets the process logger events are mirrored to.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// New creates a Logger. If mirrors are configured their writer starts here
// and runs until Close.
func New(opts ...Option) *Logger {
	l := &Logger{
		tail:      make([]domain.Event, 1000),
		now:       time.Now,
		timeout:   2 * time.Second,
		flush:     5 * time.Second,
		log:       slog.Default(),
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	if len(l.mirrors) > 0 {
		l.queue = make(chan domain.Event, l.queueSize)
		l.done = make(chan struct{})
		go l.drain()
	}
	return l
}

// Log records one event.
func (l *Logger) Log(level domain.Level, jobID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := domain.Event{Time: l.now().UTC(), Level: level, JobID: jobID, Message: message}

	l.tail[l.next] = ev
	l.next = (l.next + 1) % len(l.tail)
	if l.next == 0 {
		l.full = true
	}

	l.log.Log(context.Background(), slogLevel(level), message, "job", jobID)

	if l.closed {
		return
	}

	for _, s := range l.sinks {
		l.write(s, ev)
	}

	if l.queue == nil {
		return
	}
	select {
	case l.queue <- ev:
	default:
		for _, s := range l.mirrors {
			metrics.EventsDropped.WithLabelValues(s.name).Inc()
		}
		l.log.Warn("Event queue full, mirror write dropped", "job", jobID)
	}
}

func (l *Logger) drain() {
	defer close(l.done)
	for ev := range l.queue {
		for _, s := range l.mirrors {
			l.write(s, ev)
		}
	}
}

func (l *Logger) write(s namedSink, ev domain.Event) {
	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()
	if err := s.sink.Append(ctx, ev); err != nil {
		metrics.EventSinkErrors.WithLabelValues(s.name).Inc()
		l.log.Warn("Failed to write event", "sink", s.name, "error", err)
	}
}

// Recent returns up to n of the newest in-memory events, oldest first. An
// empty jobID matches every job.
func (l *Logger) Recent(jobID string, n int) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []domain.Event
	if l.full {
		ordered = append(ordered, l.tail[l.next:]...)
	}
	ordered = append(ordered, l.tail[:l.next]...)

	var out []domain.Event
	for i := len(ordered) - 1; i >= 0 && len(out) < n; i-- {
		if jobID == "" || ordered[i].JobID == jobID {
			out = append(out, ordered[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Close flushes queued mirror writes, giving up after the flush timeout, and
// closes every sink that holds resources. Events logged afterwards only
// reach the in-memory tail.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.queue != nil {
		close(l.queue)
	}
	l.mu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		case <-time.After(l.flush):
			l.log.Warn("Event mirrors did not flush in time", "pending", len(l.queue))
			l.cancel()
			<-l.done
		}
	}
	l.cancel()

	var errs []error
	for _, s := range append(l.sinks, l.mirrors...) {
		if c, ok := s.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func slogLevel(level domain.Level) slog.Level {
	switch level {
	case domain.LevelDebug:
		return slog.LevelDebug
	case domain.LevelWarn:
		return slog.LevelWarn
	case domain.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
