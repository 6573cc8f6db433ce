package candles

import (
	"context"
	"fmt"
	"time"

	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

// Datafeed is the pull-style bridge a chart drives: GetBars for history,
// then SubscribeBar for live bars. Its feed is registered with the hub on
// construction, so ticks arriving while history loads are buffered rather
// than lost.
type Datafeed struct {
	feed       *Feed
	source     interfaces.IBarSource
	unregister func()
	now        func() int64
	Logger     *logger.Logger
}

func NewDatafeed(hub *Hub, source interfaces.IBarSource, symbol string, tf models.MTimeframe, bufferSize int, log *logger.Logger) *Datafeed {
	feed := NewFeed(symbol, tf, bufferSize, log)
	return &Datafeed{
		feed:       feed,
		source:     source,
		unregister: hub.Register(func(tick models.MCandle) { feed.Push(tick) }),
		now:        func() int64 { return time.Now().Unix() },
		Logger:     log,
	}
}

// GetBars loads history for [from, to) and hands it to cb. The newest bar
// seeds the feed so live ticks for an already drawn period merge or drop
// correctly. A seed whose period has not ended is always left open.
func (d *Datafeed) GetBars(ctx context.Context, from, to int64, cb func(bars []models.MCandle, noData bool)) error {
	if d.source == nil {
		cb(nil, true)
		return nil
	}
	bars, err := d.source.GetBars(ctx, d.feed.Symbol(), d.feed.Timeframe(), from, to)
	if err != nil {
		return fmt.Errorf("get bars %s/%s: %w", d.feed.Symbol(), d.feed.Timeframe(), err)
	}
	if len(bars) > 0 {
		last := bars[len(bars)-1]
		if last.IsComplete && d.feed.Timeframe().PeriodEnd(last.StartTime) > d.now() {
			last.IsComplete = false
		}
		d.feed.Seed(last)
	}
	cb(bars, len(bars) == 0)
	return nil
}

func (d *Datafeed) SubscribeBar(cb BarCallback) {
	d.feed.SubscribeBar(cb)
}

func (d *Datafeed) UnsubscribeBar() {
	d.feed.UnsubscribeBar()
}

// Close detaches the feed from the hub.
func (d *Datafeed) Close() {
	d.unregister()
	d.feed.UnsubscribeBar()
}

func (d *Datafeed) Symbol() string {
	return d.feed.Symbol()
}

func (d *Datafeed) Timeframe() models.MTimeframe {
	return d.feed.Timeframe()
}

func (d *Datafeed) Feed() *Feed {
	return d.feed
}
