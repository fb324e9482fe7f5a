// Package journal remembers delivered messages by fingerprint so re-running a
// batch does not send them twice.
package journal

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

	"github.com/dhcgn/mailbatch/message"
)

const FileName = "delivered.jsonl"

type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type Snapshot struct {
	Delivered int
}

type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Delivered returns the recorded result for fingerprint.
func (m *Memory) Delivered(fingerprint string) (message.Result, bool) {
	if fingerprint == "" {
		return message.Result{}, false
	}

	m.mu.RLock()
	entry, ok := m.entries[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return message.Result{}, false
	}
	return message.Delivered(entry.MessageID, entry.DeliveredAt), true
}

// Record stores a successful result. Failed results are ignored.
func (m *Memory) Record(fingerprint string, result message.Result) error {
	_, err := m.add(fingerprint, result)
	return err
}

func (m *Memory) add(fingerprint string, result message.Result) (Entry, error) {
	if fingerprint == "" || !result.Success() {
		return Entry{}, nil
	}
	entry := Entry{Fingerprint: fingerprint, MessageID: result.ID(), DeliveredAt: result.Timestamp()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[fingerprint]; exists {
		return Entry{}, nil
	}
	m.entries[fingerprint] = entry
	return entry, nil
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.entries)
	m.mu.RUnlock()
	return Snapshot{Delivered: count}
}

// File persists entries as JSON lines in a directory.
type File struct {
	*Memory
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

// Open loads dir/delivered.jsonl. When persist is false new entries are kept
// in memory only.
func Open(dir string, persist bool) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &File{
		Memory:  NewMemory(),
		path:    filepath.Join(dir, FileName),
		persist: persist,
	}
	if err := j.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open journal for append: %w", err)
		}
		j.file = file
		j.writer = bufio.NewWriterSize(file, 64*1024)
	}
	return j, nil
}

func (j *File) Path() string {
	return j.path
}

func (j *File) load() error {
	file, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return fmt.Errorf("parse journal line %d: %w", line, err)
		}
		if entry.Fingerprint == "" {
			continue
		}

		j.mu.Lock()
		j.entries[entry.Fingerprint] = entry
		j.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}

// Record stores a successful result and appends it to the journal file.
func (j *File) Record(fingerprint string, result message.Result) error {
	entry, err := j.add(fingerprint, result)
	if err != nil || entry.Fingerprint == "" || !j.persist {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries to disk.
func (j *File) Flush() error {
	if !j.persist || j.file == nil {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *File) Close() error {
	if !j.persist || j.file == nil {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	var firstErr error
	if err := j.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	j.file = nil
	return firstErr
}
