package candles

import (
	"strings"
	"sync"

	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/utils"
)

// DefaultPendingBufferSize bounds the ticks held while no bar callback is
// installed.
const DefaultPendingBufferSize = 500

// Outcome describes what a Feed did with one tick.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeBuffered
	OutcomeAppended
	OutcomeMerged
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeAppended:
		return "appended"
	case OutcomeMerged:
		return "merged"
	case OutcomeDropped:
		return "dropped"
	}
	return "unknown"
}

// BarCallback receives every bar the chart should draw: a bar with a newer
// start time is appended, one with the same start time replaces the last bar.
type BarCallback func(bar models.MCandle)

// -----------------------------------------------------------------------------
// Feed
// -----------------------------------------------------------------------------

// Feed reconciles the candle tick stream of one displayed (symbol,
// timeframe) pair into append/replace calls. Ticks carry cumulative values
// for their period. Until a callback is installed ticks wait in a bounded
// FIFO that drops the oldest entry on overflow.
type Feed struct {
	Logger *logger.Logger

	mu        sync.Mutex
	symbol    string
	tf        models.MTimeframe
	last      *models.MCandle
	committed bool
	callback  BarCallback
	pending   *utils.RingBuffer[models.MCandle]
	onCommit  func(models.MCandle)

	dropped  int
	overflow int
}

func NewFeed(symbol string, tf models.MTimeframe, bufferSize int, log *logger.Logger) *Feed {
	if bufferSize <= 0 {
		bufferSize = DefaultPendingBufferSize
	}
	return &Feed{
		Logger:  log,
		symbol:  strings.ToUpper(symbol),
		tf:      tf,
		pending: utils.NewRingBuffer[models.MCandle](bufferSize),
	}
}

// OnCommit sets the hook called with every finalized bar, either explicitly
// (isComplete) or implicitly when a newer period starts. It runs under the
// feed lock and must not block.
func (f *Feed) OnCommit(fn func(models.MCandle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCommit = fn
}

// -----------------------------------------------------------------------------

// Push offers one tick to the feed.
func (f *Feed) Push(tick models.MCandle) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tick.Symbol != f.symbol || tick.Timeframe != f.tf {
		return OutcomeIgnored
	}
	if f.callback == nil {
		if _, evicted := f.pending.Append(tick); evicted {
			f.overflow++
			f.Logger.Debug("Pending buffer of %d full for %s/%s, dropped oldest tick", f.pending.Capacity(), f.symbol, f.tf)
		}
		return OutcomeBuffered
	}
	return f.processLocked(tick)
}

func (f *Feed) processLocked(tick models.MCandle) Outcome {
	switch {
	case f.last == nil:
		return f.appendLocked(tick)

	case tick.StartTime < f.last.StartTime:
		return f.dropLocked(tick)

	case tick.StartTime == f.last.StartTime:
		if f.committed {
			return f.dropLocked(tick)
		}
		bar := tick
		f.last = &bar
		f.callback(bar)
		if bar.IsComplete {
			f.commitLocked()
		}
		return OutcomeMerged

	default:
		if !f.committed {
			f.commitLocked()
		}
		return f.appendLocked(tick)
	}
}

func (f *Feed) appendLocked(tick models.MCandle) Outcome {
	bar := tick
	f.last = &bar
	f.committed = false
	f.callback(bar)
	if bar.IsComplete {
		f.commitLocked()
	}
	return OutcomeAppended
}

func (f *Feed) commitLocked() {
	f.committed = true
	f.last.IsComplete = true
	if f.onCommit != nil {
		f.onCommit(*f.last)
	}
}

func (f *Feed) dropLocked(tick models.MCandle) Outcome {
	f.dropped++
	f.Logger.Debug("Stale tick dropped for %s/%s at %d (last %d)", f.symbol, f.tf, tick.StartTime, f.last.StartTime)
	return OutcomeDropped
}

// -----------------------------------------------------------------------------
// Consumer side
// -----------------------------------------------------------------------------

// SubscribeBar installs the bar callback and flushes buffered ticks in
// arrival order. The callback runs under the feed lock and must not call
// back into the feed.
func (f *Feed) SubscribeBar(cb BarCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
	if cb == nil {
		return
	}
	for _, tick := range f.pending.Drain() {
		f.processLocked(tick)
	}
}

// UnsubscribeBar removes the callback. Later ticks are buffered again.
func (f *Feed) UnsubscribeBar() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = nil
}

// Seed records the last bar the chart already holds, typically the newest
// history bar. Bars older than the current state are ignored.
func (f *Feed) Seed(bar models.MCandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bar.Symbol != f.symbol || bar.Timeframe != f.tf {
		return
	}
	if f.last != nil && bar.StartTime < f.last.StartTime {
		return
	}
	b := bar
	f.last = &b
	f.committed = bar.IsComplete
}

// Display switches the displayed pair and resets all state.
func (f *Feed) Display(symbol string, tf models.MTimeframe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbol = strings.ToUpper(symbol)
	f.tf = tf
	f.last = nil
	f.committed = false
	f.pending.Clear()
}

// -----------------------------------------------------------------------------

func (f *Feed) Symbol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbol
}

func (f *Feed) Timeframe() models.MTimeframe {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tf
}

// Last returns the last accepted bar.
func (f *Feed) Last() (models.MCandle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return models.MCandle{}, false
	}
	return *f.last, true
}

func (f *Feed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending.Size()
}

// Dropped counts stale ticks discarded by the merge-vs-append guard.
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Overflowed counts ticks evicted from a full pending buffer.
func (f *Feed) Overflowed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overflow
}
