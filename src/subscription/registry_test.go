package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"market-stream/src/helpers"
	"market-stream/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Method  string
	Symbols []string
}

type fakeInvoker struct {
	mu        sync.Mutex
	calls     []call
	connected bool
	err       error
}

func (f *fakeInvoker) Invoke(ctx context.Context, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return helpers.NewNotConnectedError(method, "disconnected")
	}
	if f.err != nil {
		return f.err
	}
	c := call{Method: method}
	if len(args) > 0 {
		c.Symbols = args[0].([]string)
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeInvoker) take() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

func newTestRegistry() (*Registry, *fakeInvoker) {
	inv := &fakeInvoker{connected: true}
	return NewRegistry(inv, nil), inv
}

// -----------------------------------------------------------------------------

func TestUnionAcrossConsumers(t *testing.T) {
	r, inv := newTestRegistry()
	ctx := context.Background()

	var evicted [][]string
	r.OnEvict(func(symbols []string) { evicted = append(evicted, symbols) })

	require.NoError(t, r.SetInterest(ctx, "A", []string{"vnm", "HPG"}))
	require.NoError(t, r.SetInterest(ctx, "B", []string{"HPG", "FPT"}))
	assert.Equal(t, []string{"FPT", "HPG", "VNM"}, r.Symbols())
	assert.Equal(t, []call{
		{models.MethodSubscribe, []string{"HPG", "VNM"}},
		{models.MethodSubscribe, []string{"FPT"}},
	}, inv.take())

	require.NoError(t, r.ClearInterest(ctx, "A"))
	assert.Equal(t, []string{"FPT", "HPG"}, r.Symbols())
	assert.Equal(t, []call{{models.MethodUnsubscribe, []string{"VNM"}}}, inv.take())
	assert.Equal(t, [][]string{{"VNM"}}, evicted)
	assert.Equal(t, 1, r.Consumers())
}

func TestSetInterestIsIdempotent(t *testing.T) {
	r, inv := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.SetInterest(ctx, "grid", []string{"VNM", "HPG"}))
	inv.take()

	require.NoError(t, r.SetInterest(ctx, "grid", []string{"HPG", "vnm", " VNM "}))
	require.NoError(t, r.SetInterest(ctx, "chart", []string{"VNM"}))
	assert.Empty(t, inv.take())
}

func TestSetInterestDiffsBothDirections(t *testing.T) {
	r, inv := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.SetInterest(ctx, "grid", []string{"VNM", "HPG"}))
	inv.take()

	require.NoError(t, r.SetInterest(ctx, "grid", []string{"HPG", "MWG", "FPT"}))
	assert.Equal(t, []call{
		{models.MethodSubscribe, []string{"FPT", "MWG"}},
		{models.MethodUnsubscribe, []string{"VNM"}},
	}, inv.take())
	assert.Equal(t, []string{"FPT", "HPG", "MWG"}, r.Interest("grid"))
}

func TestConcurrentConsumersNeverDuplicate(t *testing.T) {
	r, inv := newTestRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, r.SetInterest(ctx, string(rune('a'+id)), []string{"VNM", "HPG"}))
		}(i)
	}
	wg.Wait()

	subscribed := map[string]int{}
	for _, c := range inv.take() {
		for _, s := range c.Symbols {
			subscribed[s]++
		}
	}
	assert.Equal(t, map[string]int{"VNM": 1, "HPG": 1}, subscribed)
	assert.Equal(t, 20, r.Consumers())
}

func TestNotConnectedIsDeferredToReplay(t *testing.T) {
	inv := &fakeInvoker{}
	r := NewRegistry(inv, nil)
	ctx := context.Background()

	require.NoError(t, r.SetInterest(ctx, "A", []string{"VNM", "HPG"}))
	require.NoError(t, r.SetInterest(ctx, "B", []string{"FPT"}))
	require.NoError(t, r.SetWildcard(ctx, "heatmap", true))
	assert.Empty(t, inv.take())

	inv.connected = true
	require.NoError(t, r.Replay(ctx))
	assert.Equal(t, []call{
		{models.MethodSubscribe, []string{"FPT", "HPG", "VNM"}},
		{models.MethodSubscribeAll, nil},
	}, inv.take())

	// a reconnect replays the full set again, not a diff
	r.ReplayHook()(ctx)
	assert.Equal(t, []call{
		{models.MethodSubscribe, []string{"FPT", "HPG", "VNM"}},
		{models.MethodSubscribeAll, nil},
	}, inv.take())
}

func TestInvokeFailureKeepsState(t *testing.T) {
	r, inv := newTestRegistry()
	inv.err = errors.New("write: broken pipe")

	err := r.SetInterest(context.Background(), "A", []string{"VNM"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.MethodSubscribe)
	assert.Equal(t, []string{"VNM"}, r.Symbols())
}

func TestWildcardFirstAndLast(t *testing.T) {
	r, inv := newTestRegistry()
	ctx := context.Background()

	var changes []bool
	r.OnChange(func(_ []string, wildcard bool) { changes = append(changes, wildcard) })

	require.NoError(t, r.SetWildcard(ctx, "heatmap", true))
	require.NoError(t, r.SetWildcard(ctx, "ops", true))
	require.NoError(t, r.SetWildcard(ctx, "heatmap", true))
	assert.Equal(t, []call{{models.MethodSubscribeAll, nil}}, inv.take())
	assert.True(t, r.Wildcard())

	require.NoError(t, r.ClearInterest(ctx, "heatmap"))
	assert.Empty(t, inv.take())
	require.NoError(t, r.SetWildcard(ctx, "ops", false))
	assert.Equal(t, []call{{models.MethodUnsubscribeAll, nil}}, inv.take())
	assert.Equal(t, []bool{true, false}, changes)
}

func TestNoEvictionWhileWildcardHeld(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	evictions := 0
	r.OnEvict(func([]string) { evictions++ })

	require.NoError(t, r.SetWildcard(ctx, "heatmap", true))
	require.NoError(t, r.SetInterest(ctx, "A", []string{"VNM"}))
	require.NoError(t, r.ClearInterest(ctx, "A"))
	assert.Zero(t, evictions)
}

func TestAdmitsFollowsUnionAndWildcard(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	assert.False(t, r.Admits("VNM"))

	var duringEvict bool
	r.OnEvict(func([]string) { duringEvict = r.Admits("VNM") })

	require.NoError(t, r.SetInterest(ctx, "A", []string{"vnm"}))
	assert.True(t, r.Admits("VNM"))
	assert.True(t, r.Admits("vnm"))
	assert.False(t, r.Admits("HPG"))

	require.NoError(t, r.ClearInterest(ctx, "A"))
	assert.False(t, r.Admits("VNM"))
	assert.False(t, duringEvict, "eviction hooks see the shrunken union")

	require.NoError(t, r.SetWildcard(ctx, "heatmap", true))
	assert.True(t, r.Admits("HPG"))
	require.NoError(t, r.SetWildcard(ctx, "heatmap", false))
	assert.False(t, r.Admits("HPG"))
}

func TestEmptyConsumerRejected(t *testing.T) {
	r, _ := newTestRegistry()
	err := r.SetInterest(context.Background(), "", []string{"VNM"})
	assert.True(t, helpers.IsValidation(err))
}

func TestNormalizeSymbols(t *testing.T) {
	assert.Equal(t, []string{"VNM", "HPG"}, NormalizeSymbols([]string{" vnm", "", "HPG", "VNM"}))
}
