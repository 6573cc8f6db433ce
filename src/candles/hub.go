package candles

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/snapshot"
	"market-stream/src/utils"
)

// Hub fans candle ticks out to every registered sink (feeds, recorder).
type Hub struct {
	scaler *snapshot.PriceScaler
	Logger *logger.Logger
	sinks  utils.Observers[func(models.MCandle)]
}

func NewHub(scaler *snapshot.PriceScaler, log *logger.Logger) *Hub {
	return &Hub{scaler: scaler, Logger: log}
}

// Register adds a sink. Sinks run on the stream read goroutine.
func (h *Hub) Register(sink func(models.MCandle)) func() {
	return h.sinks.Add(sink)
}

// HandleFrame converts candle frames and publishes them.
func (h *Hub) HandleFrame(f models.MFrame) {
	if f.Kind != models.FrameCandle {
		return
	}
	tick, err := TickFromFields(f.Fields)
	if err != nil {
		h.Logger.Debug("Dropping candle frame: %v", err)
		return
	}
	if h.scaler != nil {
		kind := h.scaler.TypeOf(tick.Symbol)
		if declared, ok := f.Fields["instrumentType"].(string); ok && declared != "" {
			kind = declared
		}
		tick.Open = h.scaler.Scale(kind, tick.Open)
		tick.High = h.scaler.Scale(kind, tick.High)
		tick.Low = h.scaler.Scale(kind, tick.Low)
		tick.Close = h.scaler.Scale(kind, tick.Close)
	}
	h.Publish(tick)
}

// Publish pushes a tick to all sinks in registration order.
func (h *Hub) Publish(tick models.MCandle) {
	for _, sink := range h.sinks.Snapshot() {
		sink(tick)
	}
}

// -----------------------------------------------------------------------------

// TickFromFields builds a candle tick from normalized frame fields. The start
// time may be unix seconds, unix milliseconds or an RFC3339 string; it is
// aligned to the start of its period.
func TickFromFields(fields map[string]interface{}) (models.MCandle, error) {
	var c models.MCandle

	c.Symbol = strings.ToUpper(firstString(fields, "ticker", "symbol"))
	if c.Symbol == "" {
		return c, fmt.Errorf("candle without ticker")
	}

	tfRaw, ok := first(fields, "timeframe", "resolution", "interval")
	if !ok {
		return c, fmt.Errorf("candle %s without timeframe", c.Symbol)
	}
	var tfStr string
	switch v := tfRaw.(type) {
	case string:
		tfStr = v
	case float64:
		tfStr = strconv.FormatFloat(v, 'f', -1, 64)
	}
	tf, err := models.ParseTimeframe(tfStr)
	if err != nil {
		return c, err
	}
	c.Timeframe = tf

	tsRaw, ok := first(fields, "startTime", "time", "t", "timestamp")
	if !ok {
		return c, fmt.Errorf("candle %s without start time", c.Symbol)
	}
	ts, err := parseTimestamp(tsRaw)
	if err != nil {
		return c, err
	}
	c.StartTime = tf.PeriodStart(ts)

	closePrice, ok := firstFloat(fields, "close", "c")
	if !ok {
		return c, fmt.Errorf("candle %s without close", c.Symbol)
	}
	c.Close = closePrice
	c.Open = floatOr(fields, closePrice, "open", "o")
	c.High = floatOr(fields, closePrice, "high", "h")
	c.Low = floatOr(fields, closePrice, "low", "l")
	c.Volume = floatOr(fields, 0, "volume", "v")
	c.IsComplete, _ = firstBool(fields, "isComplete", "complete", "closed", "final")
	return c, nil
}

func parseTimestamp(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		ts := int64(t)
		if ts > 1e12 {
			ts /= 1000
		}
		return ts, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, fmt.Errorf("bad start time %q: %w", t, err)
		}
		return parsed.Unix(), nil
	}
	return 0, fmt.Errorf("bad start time %v", v)
}

func first(fields map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(fields map[string]interface{}, keys ...string) string {
	v, _ := first(fields, keys...)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstFloat(fields map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := fields[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}

func floatOr(fields map[string]interface{}, def float64, keys ...string) float64 {
	if f, ok := firstFloat(fields, keys...); ok {
		return f
	}
	return def
}

func firstBool(fields map[string]interface{}, keys ...string) (bool, bool) {
	for _, k := range keys {
		if b, ok := fields[k].(bool); ok {
			return b, true
		}
	}
	return false, false
}
