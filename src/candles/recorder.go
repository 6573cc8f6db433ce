package candles

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

const (
	recorderBatchSize     = 100
	recorderFlushInterval = time.Second
)

// Recorder keeps one feed per (symbol, timeframe) seen on the hub and writes
// committed bars to the candle store in batches.
type Recorder struct {
	store  interfaces.ICandleStore
	Logger *logger.Logger

	mu    sync.Mutex
	feeds map[string]*Feed

	queue   chan models.MCandle
	dropped atomic.Int64
}

func NewRecorder(store interfaces.ICandleStore, queueSize int, log *logger.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{
		store:  store,
		Logger: log,
		feeds:  make(map[string]*Feed),
		queue:  make(chan models.MCandle, queueSize),
	}
}

// Push is the hub sink.
func (r *Recorder) Push(tick models.MCandle) {
	key := tick.Key()

	r.mu.Lock()
	feed, ok := r.feeds[key]
	if !ok {
		feed = NewFeed(tick.Symbol, tick.Timeframe, 1, r.Logger)
		feed.OnCommit(r.enqueue)
		feed.SubscribeBar(func(models.MCandle) {})
		r.feeds[key] = feed
	}
	r.mu.Unlock()

	feed.Push(tick)
}

func (r *Recorder) enqueue(bar models.MCandle) {
	select {
	case r.queue <- bar:
	default:
		r.dropped.Add(1)
		r.Logger.Warning("Recorder queue full, dropped %s bar at %d", bar.Key(), bar.StartTime)
	}
}

// Dropped counts committed bars lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Stats sums the guard outcomes of every tracked feed.
type Stats struct {
	Feeds        int   `json:"feeds"`
	StaleDropped int   `json:"staleDropped"`
	Overflowed   int   `json:"overflowed"`
	QueueDropped int64 `json:"queueDropped"`
}

func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		feeds = append(feeds, f)
	}
	r.mu.Unlock()

	st := Stats{Feeds: len(feeds), QueueDropped: r.dropped.Load()}
	for _, f := range feeds {
		st.StaleDropped += f.Dropped()
		st.Overflowed += f.Overflowed()
	}
	return st
}

// Forget stops tracking symbols, e.g. after a full unsubscribe.
func (r *Recorder) Forget(symbols ...string) {
	drop := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		drop[s] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, feed := range r.feeds {
		if _, ok := drop[feed.Symbol()]; ok {
			delete(r.feeds, key)
		}
	}
}

// -----------------------------------------------------------------------------

// Run writes queued bars until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(recorderFlushInterval)
	defer ticker.Stop()

	batch := make([]models.MCandle, 0, recorderBatchSize)
	for {
		select {
		case bar := <-r.queue:
			batch = append(batch, bar)
			if len(batch) >= recorderBatchSize {
				batch = r.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = r.flush(ctx, batch)
		case <-ctx.Done():
			for {
				select {
				case bar := <-r.queue:
					batch = append(batch, bar)
					continue
				default:
				}
				break
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.flush(shutdownCtx, batch)
			cancel()
			return
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []models.MCandle) []models.MCandle {
	if len(batch) == 0 {
		return batch
	}
	if err := r.store.SaveCandles(ctx, batch); err != nil {
		r.Logger.Error("Failed to save %d candles: %v", len(batch), err)
	} else {
		r.Logger.Debug("Saved %d candles", len(batch))
	}
	return batch[:0]
}
