package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"market-stream/src/candles"
	"market-stream/src/models"
	"market-stream/src/subscription"
	"market-stream/src/tabular"
)

// defaultChartBars is how far back a chart reaches when no range is given.
const defaultChartBars = 300

// -----------------------------------------------------------------------------

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// -----------------------------------------------------------------------------

func splitSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return subscription.NormalizeSymbols(strings.Split(raw, ","))
}

// -----------------------------------------------------------------------------

// parseRange reads unix-second bounds. Missing bounds default to the last
// defaultChartBars periods ending now.
func parseRange(fromRaw, toRaw string, tf models.MTimeframe) (int64, int64, error) {
	to := time.Now().Unix()
	if toRaw != "" {
		v, err := strconv.ParseInt(toRaw, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad to %q", toRaw)
		}
		to = v
	}
	from := to - defaultChartBars*int64(tf.Duration().Seconds())
	if fromRaw != "" {
		v, err := strconv.ParseInt(fromRaw, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad from %q", fromRaw)
		}
		from = v
	}
	if from >= to {
		return 0, 0, fmt.Errorf("empty range [%d, %d)", from, to)
	}
	return from, to, nil
}

// -----------------------------------------------------------------------------

func rowsMessage(tx tabular.Transaction[models.MQuoteRow]) *models.MServerMessage {
	return &models.MServerMessage{Type: models.MessageRows, Rows: tx, Timestamp: nowMillis()}
}

func errorMessage(format string, args ...interface{}) *models.MServerMessage {
	return &models.MServerMessage{Type: models.MessageError, Error: fmt.Sprintf(format, args...), Timestamp: nowMillis()}
}

func quoteRowKey(r models.MQuoteRow) string {
	return r.Symbol
}

// -----------------------------------------------------------------------------

// chartStats sums guard outcomes over open chart feeds plus those already
// closed.
type chartStats struct {
	mu     sync.Mutex
	open   map[*candles.Datafeed]struct{}
	closed candles.Stats
}

func (cs *chartStats) track(df *candles.Datafeed) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.open[df] = struct{}{}
}

func (cs *chartStats) untrack(df *candles.Datafeed) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.open[df]; !ok {
		return
	}
	delete(cs.open, df)
	cs.closed.StaleDropped += df.Feed().Dropped()
	cs.closed.Overflowed += df.Feed().Overflowed()
}

func (cs *chartStats) stats() candles.Stats {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	st := cs.closed
	st.Feeds = len(cs.open)
	for df := range cs.open {
		st.StaleDropped += df.Feed().Dropped()
		st.Overflowed += df.Feed().Overflowed()
	}
	return st
}
