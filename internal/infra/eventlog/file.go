package eventlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vietddude/relay/internal/core/domain"
)

// WriterSink appends formatted lines to an io.Writer.
type WriterSink struct {
	w io.Writer
	c io.Closer
}

// NewWriterSink wraps w. It is not closed by the sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// OpenFile opens path for appending, creating it and its directory.
func OpenFile(path string) (*WriterSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create event log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &WriterSink{w: f, c: f}, nil
}

// Append writes ev as one line.
func (s *WriterSink) Append(_ context.Context, ev domain.Event) error {
	_, err := io.WriteString(s.w, ev.Line())
	return err
}

// Close closes the underlying file, if the sink owns one.
func (s *WriterSink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
