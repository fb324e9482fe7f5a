// Package mbox writes dispatched messages to an mbox archive. All transports
// created from one Sink append to the same file.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mailbatch/transport"
)

var ErrSinkClosed = errors.New("mbox sink is closed")

// Sink serializes appends from concurrent transports.
type Sink struct {
	mu     sync.Mutex
	writer *mboxlib.Writer
	file   io.Closer
	path   string
	count  int
	closed bool
	logger *slog.Logger
}

// Create opens path for appending, creating it when missing.
func Create(path string, logger *slog.Logger) (*Sink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	sink := NewSink(file, logger)
	sink.file = file
	sink.path = path
	return sink, nil
}

// NewSink writes to w. Closing the sink does not close w.
func NewSink(w io.Writer, logger *slog.Logger) *Sink {
	return &Sink{writer: mboxlib.NewWriter(w), logger: logger}
}

// Append writes one message. A zero date is replaced by the current time.
func (s *Sink) Append(from string, date time.Time, content io.WriterTo) error {
	if content == nil {
		return transport.ErrNoContent
	}
	if date.IsZero() {
		date = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	w, err := s.writer.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("mbox create message: %w", err)
	}
	if _, err := content.WriteTo(w); err != nil {
		return fmt.Errorf("mbox write message: %w", err)
	}
	s.count++
	return nil
}

// Count returns the number of messages appended through this sink.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.writer.Close(); err != nil {
		firstErr = fmt.Errorf("mbox flush: %w", err)
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close mbox: %w", err)
		}
	}
	if s.logger != nil {
		s.logger.Debug("mbox sink closed", "path", s.path, "messages", s.count)
	}
	return firstErr
}

// Factory returns transports that append to s.
func (s *Sink) Factory() transport.Factory {
	return func() transport.Transport {
		return &Transport{sink: s}
	}
}

// Transport is a per-worker handle onto a Sink. Connect and Close only
// toggle the handle; the sink itself stays open until Sink.Close.
type Transport struct {
	sink      *Sink
	connected bool
}

func (t *Transport) Connect(ctx context.Context, _ transport.ConnectOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.sink.mu.Lock()
	closed := t.sink.closed
	t.sink.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}
	t.connected = true
	return nil
}

func (t *Transport) IsConnected() bool {
	return t.connected
}

func (t *Transport) Send(ctx context.Context, env transport.Envelope, recipients []string) error {
	if !t.connected {
		return transport.ErrNotConnected
	}
	if len(recipients) == 0 {
		return transport.ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.sink.Append(env.From, env.Date, env.Content)
}

func (t *Transport) Close() error {
	t.connected = false
	return nil
}

// CountMessages counts the messages stored in the mbox file at path.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return Count(file)
}

// Count counts the messages in an mbox stream.
func Count(r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, fmt.Errorf("message %d read: %w", count, err)
		}
		count++
	}
}
