package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives audit events. Implemented by Writer for the JSONL log and
// by in-memory collectors in tests.
type Sink interface {
	Append(ev Event) error
}

// Writer appends events to a line-oriented JSON log.
//
// The file (and any missing parent directories) is created lazily on the
// first write, so constructing a Writer never fails and a run that emits
// nothing leaves no file behind.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewWriter creates a writer targeting the given path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one event as a single JSON line and flushes it.
func (w *Writer) Append(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		if dir := filepath.Dir(w.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create audit dir: %w", err)
			}
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		w.f = f
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file if it was ever opened.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// MemorySink collects events in memory. Test helper and replay collector.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Append implements Sink.
func (m *MemorySink) Append(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of all collected events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
