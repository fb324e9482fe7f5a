// Package stats counts dispatch outcomes and reports them.
package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeSent         EventType = "sent"
	EventTypeFailed       EventType = "failed"
	EventTypeInvalid      EventType = "invalid"
	EventTypeSkipped      EventType = "skipped"
	EventTypeConnectError EventType = "connect_error"
	EventTypeCloseError   EventType = "close_error"
)

// Event describes one outcome. Index is the message position within the
// batch, or -1 for transport level events.
type Event struct {
	Type      EventType
	Index     int
	Worker    int
	MessageID string
	Err       error
	Detail    string
}

// Observer receives events from concurrent workers and must be safe for
// concurrent use.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(evt Event) { f(evt) }

// Fanout forwards every event to each non-nil observer.
type Fanout []Observer

func (f Fanout) Observe(evt Event) {
	for _, o := range f {
		if o != nil {
			o.Observe(evt)
		}
	}
}

type Summary struct {
	Sent          int
	Failed        int
	Invalid       int
	Skipped       int
	ConnectErrors int
	CloseErrors   int
	LastError     error
}

// Total is the number of messages with an outcome.
func (s Summary) Total() int {
	return s.Sent + s.Failed + s.Invalid + s.Skipped
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"sent", s.Sent,
		"failed", s.Failed,
		"invalid", s.Invalid,
		"skipped", s.Skipped,
		"connectErrors", s.ConnectErrors,
		"closeErrors", s.CloseErrors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Observe(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeSent:
		c.summary.Sent++
	case EventTypeFailed:
		c.summary.Failed++
	case EventTypeInvalid:
		c.summary.Invalid++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeConnectError:
		c.summary.ConnectErrors++
	case EventTypeCloseError:
		c.summary.CloseErrors++
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter collects events and logs a summary when asked.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Observe(evt Event) {
	r.collector.Observe(evt)
	if r.logger == nil {
		return
	}
	switch evt.Type {
	case EventTypeSent:
		r.logger.Debug("message sent", "index", evt.Index, "messageID", evt.MessageID, "worker", evt.Worker)
	case EventTypeSkipped:
		r.logger.Debug("message skipped", "index", evt.Index, "detail", evt.Detail)
	case EventTypeFailed, EventTypeInvalid:
		r.logger.Warn("message not sent", "index", evt.Index, "type", evt.Type, "err", evt.Err)
	case EventTypeConnectError, EventTypeCloseError:
		r.logger.Warn("transport error", "worker", evt.Worker, "type", evt.Type, "err", evt.Err)
	}
}

// Report logs the summary collected so far and returns it.
func (r *Reporter) Report() Summary {
	summary := r.collector.Snapshot()
	if r.logger != nil {
		r.logger.Info("dispatch summary", append(summary.LogAttrs(), "duration", time.Since(r.started))...)
	}
	return summary
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrintTop writes the limit most frequent keys of m to w, ties ordered by key.
func PrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	pairs := make([]pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
