package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink writes events as JSON lines.
type JSONLSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink writes to w. The caller owns w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

// OpenFileSink appends to the file at path, creating it and its directory.
func OpenFileSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	return &JSONLSink{enc: json.NewEncoder(f), closer: f}, nil
}

// Write appends one event.
func (s *JSONLSink) Write(e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write %s event: %w", e.Type, err)
	}
	return nil
}

// Drain writes events from sub until its channel closes or ctx is done.
func (s *JSONLSink) Drain(ctx context.Context, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := s.Write(e); err != nil {
				return err
			}
		}
	}
}

// Close closes the underlying file if the sink opened it.
func (s *JSONLSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadAll decodes a JSON-lines event stream. Blank lines are skipped.
func ReadAll(r io.Reader) ([]*Event, error) {
	var out []*Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &e)
	}
	return out, scanner.Err()
}
