package tabular

import (
	"testing"

	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
)

type row struct {
	Key   string
	Price float64
}

func project(s models.MSnapshot) row {
	r := row{Key: s.Ticker}
	if s.LastPrice != nil {
		r.Price = *s.LastPrice
	}
	return r
}

func snap(ticker string, price float64) models.MSnapshot {
	return models.MSnapshot{Ticker: ticker, LastPrice: &price}
}

func newStore(keys ...string) *RowStore[row] {
	s := NewRowStore(func(r row) string { return r.Key })
	for _, k := range keys {
		s.Apply(Transaction[row]{Add: []row{{Key: k}}})
	}
	return s
}

// -----------------------------------------------------------------------------

func TestReconcileMinimalDiff(t *testing.T) {
	view := newStore("A", "B", "C")
	rec := NewReconciler(project)

	tx := rec.Reconcile(view, []models.MSnapshot{snap("B", 2), snap("D", 4)})

	assert.Equal(t, []row{{"D", 4}}, tx.Add)
	assert.Equal(t, []row{{"B", 2}}, tx.Update)
	assert.Empty(t, tx.Remove, "removals are never inferred")
}

func TestReconcileKeyFilter(t *testing.T) {
	view := newStore("A")
	rec := NewReconciler(project)
	rec.SetKeyFilter([]string{"a", "D"})

	tx := rec.Reconcile(view, []models.MSnapshot{snap("A", 1), snap("B", 2), snap("D", 4)})
	assert.Equal(t, []row{{"D", 4}}, tx.Add)
	assert.Equal(t, []row{{"A", 1}}, tx.Update)

	rec.SetKeyFilter([]string{})
	assert.True(t, rec.Reconcile(view, []models.MSnapshot{snap("A", 1)}).Empty())

	rec.SetKeyFilter(nil)
	assert.False(t, rec.Reconcile(view, []models.MSnapshot{snap("Z", 1)}).Empty())
}

func TestReconcileDuplicateKeysLastWins(t *testing.T) {
	view := newStore("A")
	rec := NewReconciler(project)

	tx := rec.Reconcile(view, []models.MSnapshot{snap("A", 1), snap("N", 1), snap("A", 3), snap("N", 5)})
	assert.Equal(t, []row{{"N", 5}}, tx.Add)
	assert.Equal(t, []row{{"A", 3}}, tx.Update)
}

func TestReconcileEmptyBatch(t *testing.T) {
	assert.True(t, NewReconciler(project).Reconcile(newStore("A"), nil).Empty())
}

func TestRowStoreApplyAndRemove(t *testing.T) {
	store := newStore("A", "B", "C")
	rec := NewReconciler(project)

	store.Apply(rec.Reconcile(store, []models.MSnapshot{snap("B", 2), snap("D", 4)}))
	assert.Equal(t, []row{{"A", 0}, {"B", 2}, {"C", 0}, {"D", 4}}, store.Rows())

	tx := store.Remove("C", "X")
	assert.Equal(t, []string{"C"}, tx.Remove)
	assert.False(t, store.Has("C"))

	tx = store.Retain([]string{"A", "D"})
	assert.Equal(t, []string{"B"}, tx.Remove)
	assert.Equal(t, []row{{"A", 0}, {"D", 4}}, store.Rows())
	assert.Equal(t, 2, store.Len())
}
