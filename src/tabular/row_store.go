package tabular

import "sync"

// RowStore is a keyed row view that keeps insertion order. It is the
// server-side shadow of what a client grid displays.
type RowStore[R any] struct {
	keyOf func(R) string

	mu    sync.RWMutex
	rows  map[string]R
	order []string
}

func NewRowStore[R any](keyOf func(R) string) *RowStore[R] {
	return &RowStore[R]{keyOf: keyOf, rows: make(map[string]R)}
}

func (s *RowStore[R]) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[key]
	return ok
}

func (s *RowStore[R]) Get(key string) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[key]
	return r, ok
}

func (s *RowStore[R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Rows returns the rows in insertion order.
func (s *RowStore[R]) Rows() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]R, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.rows[k])
	}
	return out
}

// -----------------------------------------------------------------------------

// Apply executes a transaction.
func (s *RowStore[R]) Apply(tx Transaction[R]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range tx.Add {
		s.putLocked(r)
	}
	for _, r := range tx.Update {
		s.putLocked(r)
	}
	s.removeLocked(tx.Remove)
}

func (s *RowStore[R]) putLocked(r R) {
	key := s.keyOf(r)
	if _, ok := s.rows[key]; !ok {
		s.order = append(s.order, key)
	}
	s.rows[key] = r
}

func (s *RowStore[R]) removeLocked(keys []string) {
	if len(keys) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		delete(s.rows, k)
		drop[k] = struct{}{}
	}
	kept := s.order[:0]
	for _, k := range s.order {
		if _, ok := drop[k]; !ok {
			kept = append(kept, k)
		}
	}
	s.order = kept
}

// -----------------------------------------------------------------------------

// Remove deletes the present keys and returns the remove transaction that
// mirrors it on the consumer side.
func (s *RowStore[R]) Remove(keys ...string) Transaction[R] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tx Transaction[R]
	for _, k := range keys {
		if _, ok := s.rows[k]; ok {
			tx.Remove = append(tx.Remove, k)
		}
	}
	s.removeLocked(tx.Remove)
	return tx
}

// Retain removes every row whose key is not listed.
func (s *RowStore[R]) Retain(keys []string) Transaction[R] {
	keep := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keep[k] = struct{}{}
	}
	s.mu.RLock()
	var drop []string
	for _, k := range s.order {
		if _, ok := keep[k]; !ok {
			drop = append(drop, k)
		}
	}
	s.mu.RUnlock()
	return s.Remove(drop...)
}
