package stats

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")
	events := []Event{
		{Type: EventTypeSent},
		{Type: EventTypeSent},
		{Type: EventTypeFailed, Err: boom},
		{Type: EventTypeInvalid},
		{Type: EventTypeSkipped},
		{Type: EventTypeConnectError, Index: -1},
		{Type: EventTypeCloseError, Index: -1},
	}
	for _, evt := range events {
		c.Observe(evt)
	}

	got := c.Snapshot()
	want := Summary{Sent: 2, Failed: 1, Invalid: 1, Skipped: 1, ConnectErrors: 1, CloseErrors: 1, LastError: boom}
	if got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
	if got.Total() != 5 {
		t.Errorf("Total() = %d, want 5", got.Total())
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Observe(Event{Type: EventTypeSent})
			}
		}()
	}
	wg.Wait()
	if got := c.Snapshot().Sent; got != 800 {
		t.Fatalf("Sent = %d, want 800", got)
	}
}

func TestFanout(t *testing.T) {
	a, b := NewCollector(), NewReporter(nil)
	var calls int
	f := Fanout{a, nil, b, ObserverFunc(func(Event) { calls++ })}
	f.Observe(Event{Type: EventTypeFailed})

	if a.Snapshot().Failed != 1 || b.Report().Failed != 1 || calls != 1 {
		t.Fatalf("fanout did not reach every observer")
	}
}

func TestPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrintTop(&buf, map[string]int{"b.com": 2, "a.com": 2, "c.com": 5, "d.com": 1}, 3)
	want := "1. c.com (5)\n2. a.com (2)\n3. b.com (2)\n"
	if buf.String() != want {
		t.Fatalf("PrintTop() = %q, want %q", buf.String(), want)
	}
}
