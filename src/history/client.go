package history

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/tidwall/gjson"
)

// Client fetches chart history from the REST bars endpoint.
type Client struct {
	BaseURL string
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	now     func() time.Time
}

func NewClient(baseURL string, nm interfaces.INetworkManager, log *logger.Logger) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Network: nm, Logger: log, now: time.Now}
}

// GetBars implements interfaces.IBarSource.
func (c *Client) GetBars(ctx context.Context, symbol string, tf models.MTimeframe, from, to int64) ([]models.MCandle, error) {
	symbol = strings.ToUpper(symbol)
	body, err := c.Network.Get(ctx, c.BaseURL+"/bars", map[string]string{
		"symbol":     symbol,
		"resolution": string(tf),
		"from":       strconv.FormatInt(from, 10),
		"to":         strconv.FormatInt(to, 10),
	})
	if err != nil {
		return nil, err
	}
	bars, err := ParseBars(body, symbol, tf, c.now().Unix())
	if err != nil {
		return nil, err
	}
	out := bars[:0]
	for _, b := range bars {
		if b.StartTime >= from && (to <= 0 || b.StartTime < to) {
			out = append(out, b)
		}
	}
	c.Logger.Debug("Fetched %d bars for %s/%s", len(out), symbol, tf)
	return out, nil
}

// -----------------------------------------------------------------------------

// ParseBars decodes either an object list ({"data":[{"t":..,"o":..}]}) or the
// columnar TradingView layout ({"s":"ok","t":[..],"o":[..]}). A bar is
// complete only once its period has ended at now; the forming bar stays open.
func ParseBars(body []byte, symbol string, tf models.MTimeframe, now int64) ([]models.MCandle, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid bars payload")
	}
	root := gjson.ParseBytes(body)

	var bars []models.MCandle
	switch {
	case root.Get("s").Exists():
		status := root.Get("s").String()
		if status == "no_data" {
			return nil, nil
		}
		if status != "ok" {
			return nil, fmt.Errorf("bars status %q: %s", status, root.Get("errmsg").String())
		}
		ts := root.Get("t").Array()
		o, h, l, cl, v := root.Get("o").Array(), root.Get("h").Array(), root.Get("l").Array(), root.Get("c").Array(), root.Get("v").Array()
		for i := range ts {
			bars = append(bars, models.MCandle{
				StartTime: normalizeSeconds(ts[i].Int()),
				Open:      at(o, i),
				High:      at(h, i),
				Low:       at(l, i),
				Close:     at(cl, i),
				Volume:    at(v, i),
			})
		}
	default:
		list := root.Get("data")
		if !list.Exists() {
			list = root
		}
		if !list.IsArray() {
			return nil, fmt.Errorf("bars payload has no data array")
		}
		for _, item := range list.Array() {
			bars = append(bars, models.MCandle{
				StartTime: normalizeSeconds(pick(item, "t", "time", "startTime").Int()),
				Open:      pick(item, "o", "open").Float(),
				High:      pick(item, "h", "high").Float(),
				Low:       pick(item, "l", "low").Float(),
				Close:     pick(item, "c", "close").Float(),
				Volume:    pick(item, "v", "volume").Float(),
			})
		}
	}

	for i := range bars {
		bars[i].Symbol = symbol
		bars[i].Timeframe = tf
		bars[i].StartTime = tf.PeriodStart(bars[i].StartTime)
		bars[i].IsComplete = tf.PeriodEnd(bars[i].StartTime) <= now
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].StartTime < bars[j].StartTime })
	return bars, nil
}

func pick(item gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := item.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func at(values []gjson.Result, i int) float64 {
	if i < len(values) {
		return values[i].Float()
	}
	return 0
}

func normalizeSeconds(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	return ts
}
