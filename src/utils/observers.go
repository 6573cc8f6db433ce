package utils

import "sync"

// Observers is an ordered set of callbacks. Add returns a function that
// removes the callback again; calling it more than once is harmless.
type Observers[F any] struct {
	mu    sync.RWMutex
	next  int
	items []observer[F]
}

type observer[F any] struct {
	id int
	fn F
}

// -----------------------------------------------------------------------------

func (o *Observers[F]) Add(fn F) func() {
	o.mu.Lock()
	o.next++
	id := o.next
	o.items = append(o.items, observer[F]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *Observers[F]) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, it := range o.items {
		if it.id == id {
			o.items = append(o.items[:i:i], o.items[i+1:]...)
			return
		}
	}
}

// -----------------------------------------------------------------------------

// Snapshot returns the callbacks in registration order. Callers invoke them
// without holding any lock, so a callback may add or remove observers.
func (o *Observers[F]) Snapshot() []F {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]F, len(o.items))
	for i, it := range o.items {
		out[i] = it.fn
	}
	return out
}

func (o *Observers[F]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}
