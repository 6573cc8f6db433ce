package main

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"market-stream/src/models"
)

// market is a random walk per symbol, shared by every session.
type market struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	refs   map[string]float64
	vols   map[string]float64
	bars   map[string]models.MCandle
}

func newMarket(seed int64) *market {
	return &market{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		refs:   make(map[string]float64),
		vols:   make(map[string]float64),
		bars:   make(map[string]models.MCandle),
	}
}

// universe is what subscribeToAll streams.
var universe = []string{"VNM", "HPG", "FPT", "VCB", "MWG", "VNINDEX"}

func (m *market) priceLocked(symbol string) float64 {
	if p, ok := m.prices[symbol]; ok {
		return p
	}
	base := 20000 + m.rng.Float64()*80000
	if strings.HasSuffix(symbol, "INDEX") {
		base = 1200 + m.rng.Float64()*100
	}
	base = math.Round(base)
	m.prices[symbol] = base
	m.refs[symbol] = base
	return base
}

// step moves one symbol and returns its tick fields and current minute bar.
func (m *market) step(symbol string, now time.Time) (map[string]interface{}, models.MCandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.priceLocked(symbol)
	p = math.Round(p * (1 + (m.rng.Float64()-0.5)*0.004))
	m.prices[symbol] = p
	vol := float64(m.rng.Intn(50)+1) * 100
	m.vols[symbol] += vol
	ref := m.refs[symbol]

	tick := map[string]interface{}{
		"Ticker":        symbol,
		"LastPrice":     p,
		"RefPrice":      ref,
		"Change":        p - ref,
		"ChangePercent": math.Round((p-ref)/ref*10000) / 100,
		"TotalVol":      m.vols[symbol],
		"BidPrice1":     p - 50,
		"BidVol1":       float64(m.rng.Intn(100)+1) * 100,
		"AskPrice1":     p + 50,
		"AskVol1":       float64(m.rng.Intn(100)+1) * 100,
	}

	start := models.TimeframeMinute.PeriodStart(now.Unix())
	bar, ok := m.bars[symbol]
	if !ok || bar.StartTime != start {
		bar = models.MCandle{Symbol: symbol, Timeframe: models.TimeframeMinute, StartTime: start, Open: p, High: p, Low: p}
	}
	bar.High = math.Max(bar.High, p)
	bar.Low = math.Min(bar.Low, p)
	bar.Close = p
	bar.Volume += vol
	m.bars[symbol] = bar
	return tick, bar
}

// history fabricates complete bars ending before the current period.
func (m *market) history(symbol string, tf models.MTimeframe, from, to int64) []models.MCandle {
	m.mu.Lock()
	p := m.priceLocked(symbol)
	m.mu.Unlock()

	step := int64(tf.Duration().Seconds())
	current := tf.PeriodStart(time.Now().Unix())
	start := tf.PeriodStart(from)
	if start < from {
		start += step
	}

	var out []models.MCandle
	for ts := start; ts < to && ts < current; ts = tf.PeriodEnd(ts) {
		drift := math.Sin(float64(ts)/86400) * p * 0.02
		c := math.Round(p + drift)
		out = append(out, models.MCandle{
			Symbol: symbol, Timeframe: tf, StartTime: ts,
			Open: c - 100, High: c + 200, Low: c - 200, Close: c, Volume: 10000,
			IsComplete: true,
		})
		if len(out) >= 5000 {
			break
		}
	}
	return out
}
