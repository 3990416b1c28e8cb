package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EntryLevel is the severity of a structured log entry
type EntryLevel string

const (
	EntryLevelDebug    EntryLevel = "DEBUG"
	EntryLevelInfo     EntryLevel = "INFO"
	EntryLevelWarning  EntryLevel = "WARNING"
	EntryLevelError    EntryLevel = "ERROR"
	EntryLevelCritical EntryLevel = "CRITICAL"
)

// Entry is one record in the structured migration log
type Entry struct {
	Level       EntryLevel             `json:"level"`
	Phase       string                 `json:"phase,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	Message     string                 `json:"message"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Stack       string                 `json:"stack,omitempty"`
	Remediation []string               `json:"remediation,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Filter selects entries from a Sink. Zero values match everything.
type Filter struct {
	Levels []EntryLevel
	Phase  string
	Since  time.Time
	// Limit caps the number of returned entries, newest first
	Limit int
}

// Matches reports whether e satisfies the filter
func (f Filter) Matches(e Entry) bool {
	if len(f.Levels) > 0 {
		found := false
		for _, lvl := range f.Levels {
			if lvl == e.Level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Phase != "" && f.Phase != e.Phase {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Sink is the append-only structured log store queried by alert rules
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// MemorySink keeps the most recent entries in a bounded ring
type MemorySink struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewMemorySink creates a sink holding at most capacity entries
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemorySink{capacity: capacity}
}

// Append stores an entry, evicting the oldest when full
func (s *MemorySink) Append(_ context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[len(s.entries)-s.capacity:]
	}
	return nil
}

// Query returns matching entries newest first
func (s *MemorySink) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return selectEntries(s.entries, filter), nil
}

// FileSink appends entries as JSON lines to a file
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates the parent directory of path and returns a sink writing to it
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log sink directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Append writes one JSON line
func (s *FileSink) Append(_ context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log sink %s: %w", s.path, err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// Query scans the file and returns matching entries newest first.
// Lines that fail to parse are skipped.
func (s *FileSink) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open log sink %s: %w", s.path, err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log sink: %w", err)
	}

	return selectEntries(entries, filter), nil
}

func selectEntries(entries []Entry, filter Filter) []Entry {
	result := make([]Entry, 0)
	for _, e := range entries {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}
