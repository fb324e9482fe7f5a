package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dhcgn/mailbatch/transport"
)

var errNilTransport = errors.New("transport factory returned nil")

// pool maps a worker key to its transport. Each slot is created at most once
// and connected at most once; the owning worker is its only user.
type pool struct {
	open transport.Factory
	opts transport.ConnectOptions

	mu    sync.Mutex
	slots map[int]*slot

	onConnectError func(worker int, err error)
}

type slot struct {
	once sync.Once
	tr   transport.Transport
	err  error
}

func newPool(open transport.Factory, opts transport.ConnectOptions) *pool {
	return &pool{open: open, opts: opts, slots: make(map[int]*slot)}
}

func (p *pool) slot(worker int) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[worker]
	if !ok {
		s = &slot{}
		p.slots[worker] = s
	}
	return s
}

// get returns the connected transport for worker, connecting on first use.
// A failed connect is remembered for the rest of the batch.
func (p *pool) get(ctx context.Context, worker int) (transport.Transport, error) {
	s := p.slot(worker)
	s.once.Do(func() {
		s.tr = p.open()
		if s.tr == nil {
			s.err = errNilTransport
		} else {
			s.err = s.tr.Connect(ctx, p.opts)
		}
		if s.err != nil && p.onConnectError != nil {
			p.onConnectError(worker, s.err)
		}
	})
	if s.err != nil {
		return nil, s.err
	}
	if !s.tr.IsConnected() {
		return nil, transport.ErrNotConnected
	}
	return s.tr, nil
}

// size is the number of transports created so far.
func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.tr != nil {
			n++
		}
	}
	return n
}

// closeAll closes every connected transport in worker order. It must only
// run once all workers have returned.
func (p *pool) closeAll(onError func(worker int, err error)) {
	p.mu.Lock()
	workers := make([]int, 0, len(p.slots))
	slots := make(map[int]*slot, len(p.slots))
	for w, s := range p.slots {
		workers = append(workers, w)
		slots[w] = s
	}
	p.mu.Unlock()
	sort.Ints(workers)

	for _, w := range workers {
		s := slots[w]
		if s.tr == nil || !s.tr.IsConnected() {
			continue
		}
		if err := s.tr.Close(); err != nil && onError != nil {
			onError(w, err)
		}
	}
}
