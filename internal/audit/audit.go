// Package audit provides append-only structured logging for store operations.
//
// Every entry access (read, write, update, delete, clear, wipe) can be
// recorded to an audit log, by default ~/.keystash/audit.log, as
// newline-delimited JSON. Values are never logged.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened.
type Action string

const (
	ActionRead   Action = "entry_read"
	ActionWrite  Action = "entry_write"
	ActionUpdate Action = "entry_update"
	ActionDelete Action = "entry_delete"
	ActionClear  Action = "entry_clear"
	ActionWipe   Action = "entry_wipe"
)

// Entry is a single audit log record.
type Entry struct {
	Timestamp   time.Time `json:"ts"`
	Action      Action    `json:"action"`
	Key         string    `json:"key,omitempty"`
	Service     string    `json:"service,omitempty"`
	AccessGroup string    `json:"access_group,omitempty"`
	Class       string    `json:"class,omitempty"`
	Actor       string    `json:"actor,omitempty"` // "cli", "library"
	Error       string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.file.Close()
}
