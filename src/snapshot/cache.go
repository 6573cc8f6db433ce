package snapshot

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/utils"
)

const maxLadderDepth = 10

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

// Cache is the last-known-value store keyed by ticker. Every tick updates
// exactly one snapshot and then notifies listeners synchronously, outside the
// cache lock, with a private copy.
type Cache struct {
	scaler *PriceScaler
	Logger *logger.Logger
	now    func() time.Time
	admit  func(symbol string) bool

	mu    sync.RWMutex
	items map[string]*models.MSnapshot

	lmu     sync.RWMutex
	all     utils.Observers[func(models.MSnapshot)]
	symbols map[string]*utils.Observers[func(models.MSnapshot)]
}

// -----------------------------------------------------------------------------

func NewCache(scaler *PriceScaler, log *logger.Logger) *Cache {
	return &Cache{
		scaler:  scaler,
		Logger:  log,
		now:     time.Now,
		items:   make(map[string]*models.MSnapshot),
		symbols: make(map[string]*utils.Observers[func(models.MSnapshot)]),
	}
}

// SetAdmission installs a predicate deciding which symbols may hold a
// snapshot. Frames for other symbols are dropped. Call before frames flow;
// fn must not block on anything that evicts from this cache.
func (c *Cache) SetAdmission(fn func(symbol string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admit = fn
}

// -----------------------------------------------------------------------------
// Observers
// -----------------------------------------------------------------------------

// OnUpdate registers a handler for every snapshot update.
func (c *Cache) OnUpdate(handler func(models.MSnapshot)) func() {
	return c.all.Add(handler)
}

// OnSnapshot registers a handler for updates of one symbol.
func (c *Cache) OnSnapshot(symbol string, handler func(models.MSnapshot)) func() {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.lmu.Lock()
	obs, ok := c.symbols[symbol]
	if !ok {
		obs = &utils.Observers[func(models.MSnapshot)]{}
		c.symbols[symbol] = obs
	}
	c.lmu.Unlock()

	remove := obs.Add(handler)
	return func() {
		remove()
		c.lmu.Lock()
		if obs.Len() == 0 && c.symbols[symbol] == obs {
			delete(c.symbols, symbol)
		}
		c.lmu.Unlock()
	}
}

func (c *Cache) notify(s models.MSnapshot) {
	for _, h := range c.all.Snapshot() {
		h(s)
	}
	c.lmu.RLock()
	obs := c.symbols[s.Ticker]
	c.lmu.RUnlock()
	if obs == nil {
		return
	}
	for _, h := range obs.Snapshot() {
		h(s)
	}
}

// -----------------------------------------------------------------------------
// Updates
// -----------------------------------------------------------------------------

// HandleFrame applies tick frames and ignores everything else.
func (c *Cache) HandleFrame(f models.MFrame) {
	switch f.Kind {
	case models.FrameTick, models.FrameQuote, models.FrameStock:
		if _, ok := c.Apply(f.Fields); !ok {
			c.Logger.Debug("Dropping %s frame for %q", f.Kind, tickerOf(f.Fields))
		}
	}
}

// -----------------------------------------------------------------------------

// Apply merges the present fields of one tick into its snapshot, creating it
// if needed. Absent and null fields leave prior values untouched. Price
// fields are scaled here, once. Ticks without a ticker, or for a symbol the
// admission predicate rejects, are dropped.
func (c *Cache) Apply(fields map[string]interface{}) (models.MSnapshot, bool) {
	symbol := tickerOf(fields)
	if symbol == "" {
		return models.MSnapshot{}, false
	}

	c.mu.Lock()
	if c.admit != nil && !c.admit(symbol) {
		c.mu.Unlock()
		return models.MSnapshot{}, false
	}
	snap, ok := c.items[symbol]
	if !ok {
		snap = &models.MSnapshot{Ticker: symbol}
		c.items[symbol] = snap
	}
	if kind, ok := fields["instrumentType"].(string); ok && kind != "" {
		snap.InstrumentType = strings.ToLower(kind)
	}
	if snap.InstrumentType == "" {
		snap.InstrumentType = c.scaler.TypeOf(symbol)
	}
	kind := snap.InstrumentType

	for key, raw := range fields {
		switch key {
		case "ticker", "symbol", "instrumentType":
			continue
		}
		if raw == nil {
			continue
		}
		v, numeric := raw.(float64)

		switch key {
		case "lastPrice", "price", "matchPrice":
			if numeric {
				snap.LastPrice = ptr(c.scaler.Scale(kind, v))
			}
		case "referencePrice", "refPrice":
			if numeric {
				snap.ReferencePrice = ptr(c.scaler.Scale(kind, v))
			}
		case "change", "priceChange":
			if numeric {
				snap.Change = ptr(c.scaler.Scale(kind, v))
			}
		case "changePercent", "pctChange", "percentChange":
			if numeric {
				snap.ChangePercent = ptr(v)
			}
		case "totalVol", "totalVolume":
			if numeric {
				snap.TotalVol = ptr(v)
			}
		default:
			if side, level, isPrice, ok := ladderKey(key); ok {
				if numeric {
					if isPrice {
						v = c.scaler.Scale(kind, v)
					}
					setLevel(snap, side, level, isPrice, v)
				}
				continue
			}
			if snap.Extra == nil {
				snap.Extra = make(map[string]interface{})
			}
			snap.Extra[key] = raw
		}
	}
	snap.UpdatedAt = c.now()
	out := snap.Clone()
	c.mu.Unlock()

	c.notify(out)
	return out, true
}

// -----------------------------------------------------------------------------

// Seed inserts snapshots for symbols the cache does not know yet, e.g. from a
// persisted mirror at startup. Live data is never overwritten.
func (c *Cache) Seed(snaps []models.MSnapshot) int {
	var inserted []models.MSnapshot
	c.mu.Lock()
	for _, s := range snaps {
		s.Ticker = strings.ToUpper(s.Ticker)
		if s.Ticker == "" {
			continue
		}
		if _, ok := c.items[s.Ticker]; ok {
			continue
		}
		cp := s.Clone()
		c.items[s.Ticker] = &cp
		inserted = append(inserted, cp.Clone())
	}
	c.mu.Unlock()

	for _, s := range inserted {
		c.notify(s)
	}
	return len(inserted)
}

// Evict removes snapshots. Called when a symbol is fully unsubscribed.
func (c *Cache) Evict(symbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		delete(c.items, strings.ToUpper(s))
	}
}

// Retain evicts every snapshot whose symbol is not listed.
func (c *Cache) Retain(symbols []string) {
	keep := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		keep[strings.ToUpper(s)] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.items {
		if _, ok := keep[s]; !ok {
			delete(c.items, s)
		}
	}
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (c *Cache) Get(symbol string) (models.MSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[strings.ToUpper(symbol)]
	if !ok {
		return models.MSnapshot{}, false
	}
	return s.Clone(), true
}

// Batch returns copies of the known snapshots among symbols, in the given
// order.
func (c *Cache) Batch(symbols []string) []models.MSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.MSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		if s, ok := c.items[strings.ToUpper(sym)]; ok {
			out = append(out, s.Clone())
		}
	}
	return out
}

// All returns copies of every snapshot sorted by ticker.
func (c *Cache) All() []models.MSnapshot {
	c.mu.RLock()
	out := make([]models.MSnapshot, 0, len(c.items))
	for _, s := range c.items {
		out = append(out, s.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func tickerOf(fields map[string]interface{}) string {
	for _, key := range []string{"ticker", "symbol"} {
		switch v := fields[key].(type) {
		case string:
			if s := strings.ToUpper(strings.TrimSpace(v)); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func ptr(v float64) *float64 {
	return &v
}

// ladderKey parses bidPrice<N>, bidVol<N>, askPrice<N> and askVol<N>.
func ladderKey(key string) (side string, level int, isPrice bool, ok bool) {
	for _, p := range []struct {
		prefix  string
		side    string
		isPrice bool
	}{
		{"bidPrice", "bid", true},
		{"bidVol", "bid", false},
		{"askPrice", "ask", true},
		{"askVol", "ask", false},
	} {
		if !strings.HasPrefix(key, p.prefix) {
			continue
		}
		n, err := strconv.Atoi(key[len(p.prefix):])
		if err != nil || n < 1 || n > maxLadderDepth {
			return "", 0, false, false
		}
		return p.side, n, p.isPrice, true
	}
	return "", 0, false, false
}

func setLevel(snap *models.MSnapshot, side string, level int, isPrice bool, v float64) {
	ladder := &snap.Bids
	if side == "ask" {
		ladder = &snap.Asks
	}
	for len(*ladder) < level {
		*ladder = append(*ladder, models.MPriceLevel{})
	}
	if isPrice {
		(*ladder)[level-1].Price = ptr(v)
	} else {
		(*ladder)[level-1].Volume = ptr(v)
	}
}
