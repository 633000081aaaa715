package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EditEntry captures a single accepted parameter edit.
type EditEntry struct {
	Param  string    `json:"param"`
	Action string    `json:"action"`
	Before float64   `json:"before"`
	After  float64   `json:"after"`
	Source string    `json:"source,omitempty"`
	Ts     time.Time `json:"ts"`
}

const (
	EditActionSet   = "set"
	EditActionReset = "reset"
)

// EditLog provides append-only access to a JSONL audit log of edits.
type EditLog struct {
	path string
	mu   sync.Mutex
}

// NewEditLog returns an EditLog that writes to the provided path.
func NewEditLog(path string) *EditLog {
	return &EditLog{path: path}
}

// Path returns the backing file path for the log.
func (l *EditLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a new entry to the audit log, one JSON object per line.
func (l *EditLog) Append(entry EditEntry) error {
	if l == nil {
		return errors.New("nil edit log")
	}
	if entry.Param == "" {
		return errors.New("edit entry missing param")
	}
	if entry.Action == "" {
		entry.Action = EditActionSet
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadEditLog loads every entry from the supplied JSONL file.
func ReadEditLog(path string) ([]EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []EditEntry
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry EditEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("decode edit entry on line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
