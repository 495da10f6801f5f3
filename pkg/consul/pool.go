package consul

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Acquire after Pool.Close.
var ErrPoolClosed = errors.New("client pool closed")

// Factory creates a Client for a Pool.
type Factory func() (*Client, error)

// Pool hands out Clients for exclusive use and takes them back. At most
// maxIdle released clients are kept; any beyond that are closed.
type Pool struct {
	factory Factory
	maxIdle int

	mu     sync.Mutex
	idle   []*Client
	closed bool
}

// NewPool creates a pool. maxIdle <= 0 keeps no idle clients.
func NewPool(factory Factory, maxIdle int) *Pool {
	return &Pool{factory: factory, maxIdle: maxIdle}
}

// Pooled is a Client borrowed from a Pool. It belongs to the borrower until
// Release is called.
type Pooled struct {
	*Client
	pool *Pool
	once sync.Once
}

// Acquire returns an idle client or creates one.
func (p *Pool) Acquire() (*Pooled, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return &Pooled{Client: c, pool: p}, nil
	}
	p.mu.Unlock()

	c, err := p.factory()
	if err != nil {
		return nil, err
	}
	return &Pooled{Client: c, pool: p}, nil
}

// Release hands the client back. Releasing twice is a no-op.
func (h *Pooled) Release() {
	h.once.Do(func() {
		h.pool.put(h.Client)
		h.Client = nil
	})
}

// put keeps c for reuse, or closes it when it is stopped, the pool is
// closed, or the idle list is full.
func (p *Pool) put(c *Client) {
	if c == nil {
		return
	}
	p.mu.Lock()
	keep := !p.closed && !c.Stopped() && len(p.idle) < p.maxIdle
	if keep {
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	if !keep {
		c.Close()
	}
}

// Idle returns the number of clients waiting for reuse.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes idle clients. Borrowed clients are closed on Release.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
}
