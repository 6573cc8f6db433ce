package snapshot

import (
	"sort"
	"sync"

	"market-stream/src/models"
)

// Coalescer collects the symbols updated since the last Drain and signals a
// capacity-1 channel, so a slow reader never blocks cache dispatch. Several
// updates of one symbol between two drains collapse into one entry.
type Coalescer struct {
	mu     sync.Mutex
	dirty  map[string]struct{}
	signal chan struct{}
	stop   func()
}

func NewCoalescer(c *Cache) *Coalescer {
	co := &Coalescer{
		dirty:  make(map[string]struct{}),
		signal: make(chan struct{}, 1),
	}
	co.stop = c.OnUpdate(func(s models.MSnapshot) { co.Mark(s.Ticker) })
	return co
}

// Mark flags symbols as dirty.
func (co *Coalescer) Mark(symbols ...string) {
	if len(symbols) == 0 {
		return
	}
	co.mu.Lock()
	for _, s := range symbols {
		co.dirty[s] = struct{}{}
	}
	co.mu.Unlock()

	select {
	case co.signal <- struct{}{}:
	default:
	}
}

// C fires after at least one Mark since the last receive.
func (co *Coalescer) C() <-chan struct{} {
	return co.signal
}

// Drain returns the dirty symbols, sorted, and resets the set.
func (co *Coalescer) Drain() []string {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make([]string, 0, len(co.dirty))
	for s := range co.dirty {
		out = append(out, s)
	}
	co.dirty = make(map[string]struct{})
	sort.Strings(out)
	return out
}

// Close detaches from the cache.
func (co *Coalescer) Close() {
	co.stop()
}
