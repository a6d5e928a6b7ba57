package eventlog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/relay/internal/core/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return t0 } }

type failingSink struct{ calls int }

func (s *failingSink) Append(context.Context, domain.Event) error {
	s.calls++
	return errors.New("unreachable")
}

type memSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memSink) Append(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestLogger_LineFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithClock(fixedClock()), WithSink("buf", NewWriterSink(&buf)))

	l.Log(domain.LevelInfo, "job-1", "posted on p1")
	l.Log(domain.LevelWarn, "", "credential rejected")

	assert.Equal(t,
		"2026-03-01T09:30:00Z | INFO  | job=job-1 | posted on p1\n"+
			"2026-03-01T09:30:00Z | WARN  | job=- | credential rejected\n",
		buf.String())
}

func TestLogger_SinkFailureIsSwallowed(t *testing.T) {
	bad := &failingSink{}
	good := &memSink{}
	l := New(WithSink("bad", bad), WithSink("good", good))

	l.Log(domain.LevelError, "job-1", "boom")
	l.Log(domain.LevelInfo, "job-1", "still here")

	assert.Equal(t, 2, bad.calls)
	assert.Len(t, good.events, 2)
}

func TestLogger_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithSink("buf", NewWriterSink(&buf)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Log(domain.LevelInfo, "job", strings.Repeat("x", 64))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		assert.True(t, strings.HasSuffix(line, "| "+strings.Repeat("x", 64)), line)
	}
}

func TestLogger_Recent(t *testing.T) {
	l := New(WithTailSize(3))

	l.Log(domain.LevelInfo, "a", "1")
	l.Log(domain.LevelInfo, "b", "2")
	l.Log(domain.LevelInfo, "a", "3")
	l.Log(domain.LevelInfo, "a", "4")

	all := l.Recent("", 10)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"2", "3", "4"}, messages(all))

	assert.Equal(t, []string{"3", "4"}, messages(l.Recent("a", 10)))
	assert.Equal(t, []string{"4"}, messages(l.Recent("a", 1)))
	assert.Empty(t, l.Recent("zzz", 10))
}

func TestOpenFile_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.log")

	sink, err := OpenFile(path)
	require.NoError(t, err)
	l := New(WithClock(fixedClock()), WithSink("file", sink))
	l.Log(domain.LevelInfo, "job-1", "first")
	require.NoError(t, l.Close())

	sink, err = OpenFile(path)
	require.NoError(t, err)
	l = New(WithClock(fixedClock()), WithSink("file", sink))
	l.Log(domain.LevelInfo, "job-1", "second")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "| first\n")
	assert.Contains(t, string(data), "| second\n")
}

// stallingSink blocks every write until release is closed or the write
// context ends. entered is signalled on the first call.
type stallingSink struct {
	memSink
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newStallingSink() *stallingSink {
	return &stallingSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stallingSink) Append(ctx context.Context, ev domain.Event) error {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.memSink.Append(ctx, ev)
}

func TestLogger_SlowMirrorDoesNotBlockLog(t *testing.T) {
	var buf bytes.Buffer
	slow := newStallingSink()
	l := New(
		WithSink("buf", NewWriterSink(&buf)),
		WithMirror("slow", slow),
		WithWriteTimeout(time.Minute),
	)

	logged := make(chan struct{})
	go func() {
		defer close(logged)
		for i := 0; i < 5; i++ {
			l.Log(domain.LevelInfo, "job-1", "tick")
		}
	}()
	select {
	case <-logged:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a stalled mirror")
	}
	assert.Equal(t, 5, strings.Count(buf.String(), "\n"))

	close(slow.release)
	require.NoError(t, l.Close())
	assert.Len(t, slow.events, 5)
}

func TestLogger_FullQueueDropsMirrorWrites(t *testing.T) {
	slow := newStallingSink()
	l := New(WithMirror("slow", slow), WithQueueSize(1), WithWriteTimeout(time.Minute))

	l.Log(domain.LevelInfo, "job-1", "1")
	<-slow.entered
	l.Log(domain.LevelInfo, "job-1", "2")
	l.Log(domain.LevelInfo, "job-1", "3")

	close(slow.release)
	require.NoError(t, l.Close())

	assert.Equal(t, []string{"1", "2"}, messages(slow.events))
	assert.Equal(t, []string{"1", "2", "3"}, messages(l.Recent("job-1", 10)))
}

func TestLogger_CloseGivesUpOnStalledMirror(t *testing.T) {
	slow := newStallingSink()
	l := New(WithMirror("slow", slow), WithWriteTimeout(time.Minute), WithFlushTimeout(50*time.Millisecond))

	l.Log(domain.LevelInfo, "job-1", "1")
	l.Log(domain.LevelInfo, "job-1", "2")

	closed := make(chan error, 1)
	go func() { closed <- l.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close waited on a stalled mirror")
	}
	assert.Empty(t, slow.events)

	l.Log(domain.LevelInfo, "job-1", "after close")
	assert.Equal(t, "after close", l.Recent("", 1)[0].Message)
}

func messages(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}
