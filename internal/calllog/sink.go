package calllog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink receives journal entries. Implementations must be safe for
// concurrent writers.
type Sink interface {
	Write(Entry) error
	Close() error
}

// WriterSink serializes entries as JSON lines to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w as a sink. The writer is closed by Close when it
// implements io.Closer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewFileSink creates a rotating file sink.
func NewFileSink(path string) *WriterSink {
	return NewWriterSink(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
}

// Write implements Sink.
func (s *WriterSink) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MultiSink fans one entry out to several sinks. The first error wins
// but every sink still sees the entry.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write implements Sink.
func (m *MultiSink) Write(e Entry) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Write(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Sink.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
