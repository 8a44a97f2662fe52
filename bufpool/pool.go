// Package bufpool implements a tiered byte-slice rental pool.
//
// Buffers are bucketed into power-of-two size classes between a
// configured minimum and maximum. Rent returns a slice whose capacity
// is at least the requested size; Return releases it back to its
// class's pool.
package bufpool

import (
	"fmt"
	"sync"
)

// Config configures a Pool's size classes.
type Config struct {
	MinClass int // smallest size class, e.g. 256
	MaxClass int // largest size class, e.g. 65536
}

// Pool is a tiered, thread-safe buffer allocator.
type Pool struct {
	minClass int
	maxClass int
	classes  []int
	pools    map[int]*sync.Pool

	debug    bool
	mu       sync.Mutex
	rentedAt map[*byte]int // debug-only: tracks outstanding rentals by backing pointer
}

// MaxBufferSize is the largest size TransportStream may rent before it
// must drop the connection instead (spec §4.2).
func (p *Pool) MaxBufferSize() int { return p.maxClass }

// New builds a Pool with power-of-two classes spanning
// [cfg.MinClass, cfg.MaxClass].
func New(cfg Config) (*Pool, error) {
	if cfg.MinClass <= 0 || cfg.MaxClass <= 0 || cfg.MinClass > cfg.MaxClass {
		return nil, fmt.Errorf("bufpool: invalid class range [%d, %d]", cfg.MinClass, cfg.MaxClass)
	}
	if cfg.MinClass&(cfg.MinClass-1) != 0 || cfg.MaxClass&(cfg.MaxClass-1) != 0 {
		return nil, fmt.Errorf("bufpool: MinClass/MaxClass must be powers of two")
	}

	p := &Pool{
		minClass: cfg.MinClass,
		maxClass: cfg.MaxClass,
		pools:    make(map[int]*sync.Pool),
		rentedAt: make(map[*byte]int),
	}
	for size := cfg.MinClass; size <= cfg.MaxClass; size *= 2 {
		size := size
		p.classes = append(p.classes, size)
		p.pools[size] = &sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		}
	}
	return p, nil
}

// classFor returns the smallest configured class that fits n, or 0 if
// n exceeds the largest class.
func (p *Pool) classFor(n int) int {
	for _, c := range p.classes {
		if n <= c {
			return c
		}
	}
	return 0
}

// Rent returns a slice of length n backed by a buffer whose capacity is
// at least n, pulled from the appropriate size class. If n exceeds the
// pool's maximum class, a one-off slice is allocated directly (the
// caller is expected to have already checked against MaxBufferSize for
// protocol-level limits; Rent itself never refuses on size alone).
func (p *Pool) Rent(n int) []byte {
	class := p.classFor(n)
	if class == 0 {
		return make([]byte, n)
	}
	buf := p.pools[class].Get().(*[]byte)
	out := (*buf)[:n]
	if p.debug {
		p.trackRent(out)
	}
	return out
}

// Return releases a slice previously obtained from Rent back to its
// size class. It is a no-op for nil or for slices whose capacity does
// not match a known class (e.g. the Rent(n) > MaxClass overflow path).
// The caller must not use the slice after returning it.
func (p *Pool) Return(b []byte) {
	if b == nil {
		return
	}
	class := cap(b)
	pool, ok := p.pools[class]
	if !ok {
		return
	}
	if p.debug {
		p.untrackReturn(b)
	}
	full := b[:class]
	pool.Put(&full)
}

// EnableDebugTracking turns on rental bookkeeping: outstanding rentals
// are recorded by backing pointer and removed on Return. The
// bookkeeping does not report double returns or use after return.
// Production code leaves this off.
func (p *Pool) EnableDebugTracking() { p.debug = true }

func (p *Pool) trackRent(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rentedAt[&b[0]] = cap(b)
}

func (p *Pool) untrackReturn(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rentedAt, &b[0])
}
