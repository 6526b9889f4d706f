// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord is a captured slog record.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that buffers records so tests can
// assert on what a component logged.
type LogRecorder struct {
	mu      sync.Mutex
	records []LogRecord
	t       *testing.T
}

// NewLogRecorder creates a recorder bound to the given test.
func NewLogRecorder(t *testing.T) *LogRecorder {
	return &LogRecorder{
		records: make([]LogRecord, 0),
		t:       t,
	}
}

// Handle implements slog.Handler.
func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attrs := make(map[string]any)
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	r.records = append(r.records, LogRecord{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
		Attrs:   attrs,
	})

	// Echo to test output for debugging
	if r.t != nil {
		r.t.Logf("[%s] %s %v", rec.Level, rec.Message, attrs)
	}

	return nil
}

// Enabled implements slog.Handler. All levels are captured in tests.
func (r *LogRecorder) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler.
func (r *LogRecorder) WithAttrs(_ []slog.Attr) slog.Handler {
	return r
}

// WithGroup implements slog.Handler.
func (r *LogRecorder) WithGroup(_ string) slog.Handler {
	return r
}

// Records returns a copy of all captured records.
func (r *LogRecorder) Records() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]LogRecord, len(r.records))
	copy(records, r.records)
	return records
}

// RecordsByLevel returns captured records filtered by level.
func (r *LogRecorder) RecordsByLevel(level slog.Level) []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var filtered []LogRecord
	for _, rec := range r.records {
		if rec.Level == level {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// ContainsMessage reports whether any record contains the given message.
func (r *LogRecorder) ContainsMessage(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if strings.Contains(rec.Message, message) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any record carries the given attribute.
func (r *LogRecorder) ContainsAttr(key string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if val, ok := rec.Attrs[key]; ok && val == value {
			return true
		}
	}
	return false
}

// Count returns the number of captured records.
func (r *LogRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// NewTestLogger creates a logger whose output is captured by the
// returned recorder.
func NewTestLogger(t *testing.T) (*slog.Logger, *LogRecorder) {
	recorder := NewLogRecorder(t)
	return slog.New(recorder), recorder
}

// AssertLogContains fails the test unless a record at the given level
// contains the message.
func AssertLogContains(t *testing.T, recorder *LogRecorder, level slog.Level, message string) {
	t.Helper()

	records := recorder.RecordsByLevel(level)
	for _, rec := range records {
		if strings.Contains(rec.Message, message) {
			return
		}
	}

	t.Errorf("expected log message not found at level %s: %q", level, message)
	for _, rec := range records {
		t.Logf("  - %s", rec.Message)
	}
}

// AssertLogAttr fails the test unless some record carries the attribute.
func AssertLogAttr(t *testing.T, recorder *LogRecorder, key string, expected any) {
	t.Helper()

	if !recorder.ContainsAttr(key, expected) {
		t.Errorf("expected log attribute not found: %s=%v", key, expected)
		for _, rec := range recorder.Records() {
			t.Logf("  - %s: %v", rec.Message, rec.Attrs)
		}
	}
}

// AssertNoErrors fails the test if any error-level records were captured.
func AssertNoErrors(t *testing.T, recorder *LogRecorder) {
	t.Helper()

	errs := recorder.RecordsByLevel(slog.LevelError)
	for _, rec := range errs {
		t.Errorf("unexpected error log: %s: %v", rec.Message, rec.Attrs)
	}
}
