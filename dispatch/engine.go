// Package dispatch sends message batches concurrently. Each worker owns one
// lazily connected transport for the duration of a single Send call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/stats"
	"github.com/dhcgn/mailbatch/transport"
)

var ErrNoFactory = errors.New("transport factory is nil")

// Config holds relay coordinates and pool bounds. Zero bounds fall back to
// MinParallelism and MaxParallelism.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	MinParallel int
	MaxParallel int
	// Timeout is handed to the transport; zero means none.
	Timeout time.Duration
}

// Bounds returns the normalized lower and upper pool size.
func (c Config) Bounds() (lo, hi int) {
	lo, hi = MinParallelism, MaxParallelism
	if c.MinParallel != 0 {
		lo = NormalizeMin(c.MinParallel)
	}
	if c.MaxParallel != 0 {
		hi = NormalizeMax(c.MaxParallel)
	}
	return lo, hi
}

func (c Config) ConnectOptions() transport.ConnectOptions {
	username := strings.TrimSpace(c.Username)
	opts := transport.ConnectOptions{Host: c.Host, Port: c.Port, Timeout: c.Timeout}
	if username != "" {
		opts.Username = username
		opts.Password = c.Password
	}
	return opts
}

// RecipientPolicy decides which envelope recipients are kept.
type RecipientPolicy interface {
	Allows(addr string) bool
}

// Ledger remembers delivered messages across runs, keyed by fingerprint.
type Ledger interface {
	Delivered(fingerprint string) (message.Result, bool)
	Record(fingerprint string, result message.Result) error
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithObserver(o stats.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithRecipientPolicy(p RecipientPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithProcessors overrides the processor count used by Parallelism.
func WithProcessors(n int) Option {
	return func(e *Engine) { e.processors = n }
}

// WithLedger skips messages the ledger already holds and records new deliveries.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine implements message.Sender.
type Engine struct {
	cfg        Config
	open       transport.Factory
	logger     *slog.Logger
	observer   stats.Observer
	policy     RecipientPolicy
	ledger     Ledger
	processors int
	now        func() time.Time
}

var _ message.Sender = (*Engine)(nil)

func New(cfg Config, open transport.Factory, opts ...Option) (*Engine, error) {
	if open == nil {
		return nil, ErrNoFactory
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	e := &Engine{cfg: cfg, open: open, processors: processors(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Degree returns the number of workers used for a batch of m messages.
func (e *Engine) Degree(m int) int {
	lo, hi := e.cfg.Bounds()
	return Parallelism(m, e.processors, lo, hi)
}

// Send delivers msgs and returns one result per message in input order. It
// never fails as a whole; every problem is reported on the affected result.
func (e *Engine) Send(ctx context.Context, msgs []message.Message) []message.Result {
	results := make([]message.Result, len(msgs))
	if len(msgs) == 0 {
		return results
	}

	degree := e.Degree(len(msgs))
	p := newPool(e.open, e.cfg.ConnectOptions())
	p.onConnectError = func(worker int, err error) {
		if e.logger != nil {
			e.logger.Warn("transport connect failed", "worker", worker, "address", e.cfg.ConnectOptions().Address(), "err", err)
		}
		e.observe(stats.Event{Type: stats.EventTypeConnectError, Index: -1, Worker: worker, Err: err})
	}
	defer p.closeAll(func(worker int, err error) {
		if e.logger != nil {
			e.logger.Warn("transport close failed", "worker", worker, "err", err)
		}
		e.observe(stats.Event{Type: stats.EventTypeCloseError, Index: -1, Worker: worker, Err: err})
	})

	started := e.now()
	if e.logger != nil {
		e.logger.Debug("dispatch started", "messages", len(msgs), "workers", degree)
	}

	var wg sync.WaitGroup
	for w := 0; w < degree; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for idx := worker; idx < len(msgs); idx += degree {
				results[idx] = e.process(ctx, p, worker, idx, msgs[idx])
			}
		}(w)
	}
	wg.Wait()

	if e.logger != nil {
		e.logger.Debug("dispatch finished", "messages", len(msgs), "workers", degree, "transports", p.size(), "duration", e.now().Sub(started))
	}
	return results
}

func (e *Engine) process(ctx context.Context, p *pool, worker, idx int, msg message.Message) message.Result {
	if err := ctx.Err(); err != nil {
		return e.failed(stats.EventTypeFailed, worker, idx, err)
	}
	if err := Check(msg); err != nil {
		return e.failed(stats.EventTypeInvalid, worker, idx, err)
	}

	var fingerprint string
	if e.ledger != nil {
		fingerprint = msg.Fingerprint()
		if prev, ok := e.ledger.Delivered(fingerprint); ok {
			e.observe(stats.Event{Type: stats.EventTypeSkipped, Index: idx, Worker: worker, MessageID: prev.ID(), Detail: "already delivered"})
			return prev
		}
	}

	recipients := e.recipients(msg)
	if len(recipients) == 0 {
		return e.failed(stats.EventTypeFailed, worker, idx, transport.ErrNoRecipients)
	}

	tr, err := p.get(ctx, worker)
	if err != nil {
		return e.failed(stats.EventTypeFailed, worker, idx, fmt.Errorf("connect: %w", err))
	}

	date := msg.Date
	if date.IsZero() {
		date = e.now()
	}
	tree, err := Render(msg, date)
	if err != nil {
		return e.failed(stats.EventTypeFailed, worker, idx, err)
	}
	id := tree.MessageID()

	env := transport.Envelope{From: msg.From, MessageID: id, Date: date, Content: tree}
	if err := tr.Send(ctx, env, recipients); err != nil {
		return e.failed(stats.EventTypeFailed, worker, idx, fmt.Errorf("send %s: %w", id, err))
	}

	result := message.Delivered(id, e.now())
	if e.ledger != nil {
		if err := e.ledger.Record(fingerprint, result); err != nil && e.logger != nil {
			e.logger.Warn("record delivery failed", "index", idx, "messageID", id, "err", err)
		}
	}
	e.observe(stats.Event{Type: stats.EventTypeSent, Index: idx, Worker: worker, MessageID: id})
	return result
}

// recipients returns the distinct envelope recipients permitted by the policy.
func (e *Engine) recipients(msg message.Message) []string {
	all := msg.Recipients()
	if e.policy == nil {
		return all
	}
	kept := all[:0]
	for _, addr := range all {
		if e.policy.Allows(addr) {
			kept = append(kept, addr)
		} else if e.logger != nil {
			e.logger.Debug("recipient rejected by policy", "recipient", addr)
		}
	}
	return kept
}

func (e *Engine) failed(kind stats.EventType, worker, idx int, err error) message.Result {
	if e.logger != nil && kind == stats.EventTypeFailed {
		e.logger.Error("message send failed", "index", idx, "worker", worker, "err", err)
	}
	e.observe(stats.Event{Type: kind, Index: idx, Worker: worker, Err: err})
	return message.Failed(err.Error(), e.now())
}

func (e *Engine) observe(evt stats.Event) {
	if e.observer != nil {
		e.observer.Observe(evt)
	}
}
