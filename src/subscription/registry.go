package subscription

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/tracing"
	"market-stream/src/utils"

	"go.opentelemetry.io/otel/attribute"
)

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry holds every consumer's declared interest and keeps the upstream
// subscription equal to their union. Each mutation, including its network
// calls, runs under one lock.
type Registry struct {
	invoker interfaces.IInvoker
	Logger  *logger.Logger

	mu        sync.Mutex
	consumers map[string]map[string]struct{}
	refs      map[string]int
	wildcard  map[string]struct{}

	admitted atomic.Pointer[admission]

	evicted utils.Observers[func(symbols []string)]
	changed utils.Observers[func(symbols []string, wildcard bool)]
}

// -----------------------------------------------------------------------------

// admission is an immutable copy of the union, readable without r.mu.
type admission struct {
	symbols  map[string]struct{}
	wildcard bool
}

func NewRegistry(invoker interfaces.IInvoker, log *logger.Logger) *Registry {
	r := &Registry{
		invoker:   invoker,
		Logger:    log,
		consumers: make(map[string]map[string]struct{}),
		refs:      make(map[string]int),
		wildcard:  make(map[string]struct{}),
	}
	r.admitted.Store(&admission{})
	return r
}

// OnEvict registers a handler for symbols that left the union while no
// wildcard interest is held. Handlers run under the registry lock and must
// not call back into the registry.
func (r *Registry) OnEvict(handler func(symbols []string)) func() {
	return r.evicted.Add(handler)
}

// OnChange registers a handler called with the full union and the wildcard
// flag after either changes. Same locking rule as OnEvict.
func (r *Registry) OnChange(handler func(symbols []string, wildcard bool)) func() {
	return r.changed.Add(handler)
}

// -----------------------------------------------------------------------------

// NormalizeSymbols trims, uppercases and deduplicates symbols. Order of first
// occurrence is kept.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// -----------------------------------------------------------------------------

// SetInterest replaces consumerID's interest. Only symbols entering or leaving
// the union reach the network.
func (r *Registry) SetInterest(ctx context.Context, consumerID string, symbols []string) (err error) {
	if consumerID == "" {
		return helpers.NewValidationError("consumer id cannot be empty")
	}
	ctx, span := tracing.StartSpan(ctx, "registry.setInterest",
		attribute.String("consumer", consumerID), attribute.Int("symbols", len(symbols)))
	defer func() { tracing.End(span, err) }()

	next := make(map[string]struct{})
	for _, s := range NormalizeSymbols(symbols) {
		next[s] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.consumers[consumerID]
	var added, removed []string
	for s := range next {
		if _, had := prev[s]; had {
			continue
		}
		if r.refs[s] == 0 {
			added = append(added, s)
		}
		r.refs[s]++
	}
	for s := range prev {
		if _, keep := next[s]; keep {
			continue
		}
		r.refs[s]--
		if r.refs[s] <= 0 {
			delete(r.refs, s)
			removed = append(removed, s)
		}
	}
	if len(next) == 0 {
		delete(r.consumers, consumerID)
	} else {
		r.consumers[consumerID] = next
	}

	return r.apply(ctx, added, removed)
}

// -----------------------------------------------------------------------------

// ClearInterest removes consumerID's contribution, including wildcard
// interest.
func (r *Registry) ClearInterest(ctx context.Context, consumerID string) error {
	if err := r.SetInterest(ctx, consumerID, nil); err != nil {
		return err
	}
	return r.SetWildcard(ctx, consumerID, false)
}

// -----------------------------------------------------------------------------

// SetWildcard declares or withdraws consumerID's interest in every symbol.
// The first holder triggers subscribeToAll, the last one leaving triggers
// unsubscribeFromAll.
func (r *Registry) SetWildcard(ctx context.Context, consumerID string, on bool) error {
	if consumerID == "" {
		return helpers.NewValidationError("consumer id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, had := r.wildcard[consumerID]
	var err error
	switch {
	case on && !had:
		r.wildcard[consumerID] = struct{}{}
		if len(r.wildcard) > 1 {
			return nil
		}
		r.publishLocked()
		err = r.invoke(ctx, models.MethodSubscribeAll)
	case !on && had:
		delete(r.wildcard, consumerID)
		if len(r.wildcard) > 0 {
			return nil
		}
		r.publishLocked()
		err = r.invoke(ctx, models.MethodUnsubscribeAll)
	default:
		return nil
	}
	r.notifyChanged()
	return err
}

// -----------------------------------------------------------------------------

// apply sends the diff. Callers hold r.mu.
func (r *Registry) apply(ctx context.Context, added, removed []string) error {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	r.publishLocked()
	sort.Strings(added)
	sort.Strings(removed)

	var firstErr error
	if len(added) > 0 {
		if err := r.invoke(ctx, models.MethodSubscribe, added); err != nil {
			firstErr = err
		}
	}
	if len(removed) > 0 {
		if err := r.invoke(ctx, models.MethodUnsubscribe, removed); err != nil && firstErr == nil {
			firstErr = err
		}
		if len(r.wildcard) == 0 {
			for _, h := range r.evicted.Snapshot() {
				h(removed)
			}
		}
	}

	r.notifyChanged()
	return firstErr
}

// publishLocked swaps in the current admission set. It runs before any
// invoke or eviction hook of the same mutation.
func (r *Registry) publishLocked() {
	a := &admission{symbols: make(map[string]struct{}, len(r.refs)), wildcard: len(r.wildcard) > 0}
	for s := range r.refs {
		a.symbols[s] = struct{}{}
	}
	r.admitted.Store(a)
}

func (r *Registry) notifyChanged() {
	union := r.symbolsLocked()
	wildcard := len(r.wildcard) > 0
	for _, h := range r.changed.Snapshot() {
		h(union, wildcard)
	}
}

// invoke calls upstream. Not being connected is not an error: the full set is
// replayed on the next connect.
func (r *Registry) invoke(ctx context.Context, method string, args ...interface{}) error {
	err := r.invoker.Invoke(ctx, method, args...)
	if err == nil {
		return nil
	}
	if helpers.IsNotConnected(err) {
		r.Logger.Debug("Deferred %s until connected", method)
		return nil
	}
	return fmt.Errorf("%s: %w", method, err)
}

// -----------------------------------------------------------------------------

// Replay re-sends the full subscription set. It is meant to run after every
// (re)connect.
func (r *Registry) Replay(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := r.symbolsLocked()
	if len(symbols) > 0 {
		r.Logger.Info("Replaying subscription for %d symbols", len(symbols))
		if err := r.invoke(ctx, models.MethodSubscribe, symbols); err != nil {
			return err
		}
	}
	if len(r.wildcard) > 0 {
		return r.invoke(ctx, models.MethodSubscribeAll)
	}
	return nil
}

// ReplayHook adapts Replay to a connection's OnConnected hook.
func (r *Registry) ReplayHook() func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := r.Replay(ctx); err != nil {
			r.Logger.Error("Subscription replay failed: %v", err)
		}
	}
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// Symbols returns the sorted union.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbolsLocked()
}

func (r *Registry) symbolsLocked() []string {
	out := make([]string, 0, len(r.refs))
	for s := range r.refs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Interest returns consumerID's sorted symbols.
func (r *Registry) Interest(consumerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.consumers[consumerID]))
	for s := range r.consumers[consumerID] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether symbol is in the union.
func (r *Registry) Contains(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[strings.ToUpper(symbol)] > 0
}

// Admits reports whether frames for symbol are still wanted: it is in the
// union or wildcard interest is held. It never takes the registry lock, so it
// is safe from inside eviction hooks and from the stream read loop.
func (r *Registry) Admits(symbol string) bool {
	a := r.admitted.Load()
	if a.wildcard {
		return true
	}
	_, ok := a.symbols[strings.ToUpper(symbol)]
	return ok
}

// Consumers returns the number of consumers holding any interest.
func (r *Registry) Consumers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.consumers)
	for id := range r.wildcard {
		if _, ok := r.consumers[id]; !ok {
			n++
		}
	}
	return n
}

// Wildcard reports whether any consumer holds wildcard interest.
func (r *Registry) Wildcard() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wildcard) > 0
}
