package utils

import (
	"sync"
	"time"

	"market-stream/src/logger"
)

// MarketScheduler tracks the exchanges of the subscribed symbols and reports
// whether any of them is trading.
type MarketScheduler struct {
	Calendars  map[string]*TradingCalendar
	Logger     *logger.Logger
	defaultMIC string
	now        func() time.Time
	mu         sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(defaultMIC string, l *logger.Logger) *MarketScheduler {
	return &MarketScheduler{
		Calendars:  make(map[string]*TradingCalendar),
		Logger:     l,
		defaultMIC: defaultMIC,
		now:        time.Now,
	}
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the tracked symbol set. It is registered as a
// subscription change observer.
func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	next := make(map[string]*TradingCalendar, len(symbols))
	for _, symbol := range symbols {
		next[symbol] = GetCalendar(symbol, ms.defaultMIC)
	}

	ms.mu.Lock()
	ms.Calendars = next
	ms.mu.Unlock()

	ms.Logger.Debug("MarketScheduler: mapped %d symbols to %d calendars", len(symbols), len(ms.uniqueCalendars()))
}

func (ms *MarketScheduler) uniqueCalendars() map[*TradingCalendar]struct{} {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make(map[*TradingCalendar]struct{})
	for _, cal := range ms.Calendars {
		out[cal] = struct{}{}
	}
	return out
}

// -----------------------------------------------------------------------------

// AnyMarketOpen checks if any tracked market is open. With nothing tracked
// the default exchange decides.
func (ms *MarketScheduler) AnyMarketOpen() bool {
	now := ms.now().UTC()

	cals := ms.uniqueCalendars()
	if len(cals) == 0 {
		return GetCalendar("", ms.defaultMIC).IsOpenOnMinute(now)
	}
	for cal := range cals {
		if cal.IsOpenOnMinute(now) {
			return true
		}
	}
	return false
}

// MICs lists the exchanges currently tracked.
func (ms *MarketScheduler) MICs() []string {
	var out []string
	for cal := range ms.uniqueCalendars() {
		out = append(out, cal.MIC)
	}
	return out
}
