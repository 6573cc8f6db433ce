package tabular

import (
	"strings"
	"sync"

	"market-stream/src/models"
)

// Transaction is one batched mutation of a keyed row view.
type Transaction[R any] struct {
	Add    []R      `json:"add"`
	Update []R      `json:"update"`
	Remove []string `json:"remove,omitempty"`
}

func (t Transaction[R]) Empty() bool {
	return len(t.Add) == 0 && len(t.Update) == 0 && len(t.Remove) == 0
}

// View answers whether a row with the given key is currently present.
type View interface {
	Has(key string) bool
}

// -----------------------------------------------------------------------------
// Reconciler
// -----------------------------------------------------------------------------

// Reconciler turns a batch of snapshots into the minimal add/update
// transaction against a View. It never removes rows.
type Reconciler[R any] struct {
	project func(models.MSnapshot) R

	mu     sync.RWMutex
	filter map[string]struct{}
}

func NewReconciler[R any](project func(models.MSnapshot) R) *Reconciler[R] {
	return &Reconciler[R]{project: project}
}

// SetKeyFilter restricts reconciliation to keys. A nil slice removes the
// filter; an empty non-nil slice accepts nothing.
func (r *Reconciler[R]) SetKeyFilter(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if keys == nil {
		r.filter = nil
		return
	}
	r.filter = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		r.filter[strings.ToUpper(k)] = struct{}{}
	}
}

// Accepts reports whether key passes the filter.
func (r *Reconciler[R]) Accepts(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.filter == nil {
		return true
	}
	_, ok := r.filter[key]
	return ok
}

// -----------------------------------------------------------------------------

// Reconcile partitions batch by key presence in view. Work is proportional to
// the batch, not the view. When a key occurs more than once the last
// snapshot wins.
func (r *Reconciler[R]) Reconcile(view View, batch []models.MSnapshot) Transaction[R] {
	var tx Transaction[R]
	if len(batch) == 0 {
		return tx
	}

	type slot struct {
		add bool
		idx int
	}
	seen := make(map[string]slot, len(batch))

	for _, s := range batch {
		if !r.Accepts(s.Ticker) {
			continue
		}
		row := r.project(s)
		if prev, ok := seen[s.Ticker]; ok {
			if prev.add {
				tx.Add[prev.idx] = row
			} else {
				tx.Update[prev.idx] = row
			}
			continue
		}
		if view.Has(s.Ticker) {
			seen[s.Ticker] = slot{idx: len(tx.Update)}
			tx.Update = append(tx.Update, row)
		} else {
			seen[s.Ticker] = slot{add: true, idx: len(tx.Add)}
			tx.Add = append(tx.Add, row)
		}
	}
	return tx
}
