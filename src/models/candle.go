package models

import (
	"fmt"
	"strings"
	"time"
)

// MTimeframe is a chart resolution.
type MTimeframe string

const (
	TimeframeMinute   MTimeframe = "1"
	Timeframe5Minute  MTimeframe = "5"
	Timeframe15Minute MTimeframe = "15"
	Timeframe30Minute MTimeframe = "30"
	TimeframeHour     MTimeframe = "60"
	Timeframe4Hour    MTimeframe = "240"
	TimeframeDay      MTimeframe = "1D"
	TimeframeWeek     MTimeframe = "1W"
	TimeframeMonth    MTimeframe = "1M"
)

// Timeframes lists every supported resolution, shortest first.
var Timeframes = []MTimeframe{
	TimeframeMinute, Timeframe5Minute, Timeframe15Minute, Timeframe30Minute,
	TimeframeHour, Timeframe4Hour, TimeframeDay, TimeframeWeek, TimeframeMonth,
}

var timeframeAliases = map[string]MTimeframe{
	"1": TimeframeMinute, "1m": TimeframeMinute, "1min": TimeframeMinute, "minute": TimeframeMinute,
	"5": Timeframe5Minute, "5m": Timeframe5Minute, "5min": Timeframe5Minute,
	"15": Timeframe15Minute, "15m": Timeframe15Minute, "15min": Timeframe15Minute,
	"30": Timeframe30Minute, "30m": Timeframe30Minute, "30min": Timeframe30Minute,
	"60": TimeframeHour, "1h": TimeframeHour, "h": TimeframeHour, "hour": TimeframeHour,
	"240": Timeframe4Hour, "4h": Timeframe4Hour,
	"1d": TimeframeDay, "d": TimeframeDay, "day": TimeframeDay,
	"1w": TimeframeWeek, "w": TimeframeWeek, "week": TimeframeWeek,
	"1mo": TimeframeMonth, "mo": TimeframeMonth, "month": TimeframeMonth,
}

// ParseTimeframe accepts the canonical resolution strings and the usual
// aliases ("5m", "1h", "D", "week", ...). "1M" and "M" mean month, "1m" means
// minute.
func ParseTimeframe(s string) (MTimeframe, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "1M", "M":
		return TimeframeMonth, nil
	case "1W", "W":
		return TimeframeWeek, nil
	case "1D", "D":
		return TimeframeDay, nil
	}
	if tf, ok := timeframeAliases[strings.ToLower(s)]; ok {
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// -----------------------------------------------------------------------------

// Duration is the nominal period length. Month reports 30 days.
func (tf MTimeframe) Duration() time.Duration {
	switch tf {
	case TimeframeMinute:
		return time.Minute
	case Timeframe5Minute:
		return 5 * time.Minute
	case Timeframe15Minute:
		return 15 * time.Minute
	case Timeframe30Minute:
		return 30 * time.Minute
	case TimeframeHour:
		return time.Hour
	case Timeframe4Hour:
		return 4 * time.Hour
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeWeek:
		return 7 * 24 * time.Hour
	case TimeframeMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// -----------------------------------------------------------------------------

// PeriodStart aligns a unix timestamp (seconds) to the start of its period.
// Intraday and daily periods use fixed windows, weeks start on Monday and
// months on the 1st, all in UTC.
func (tf MTimeframe) PeriodStart(ts int64) int64 {
	switch tf {
	case TimeframeWeek:
		t := time.Unix(ts, 0).UTC()
		offset := (int(t.Weekday()) + 6) % 7
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -offset).Unix()
	case TimeframeMonth:
		t := time.Unix(ts, 0).UTC()
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	}
	window := int64(tf.Duration() / time.Second)
	if window <= 0 {
		return ts
	}
	start, _ := windowBoundaries(ts, window)
	return start
}

// PeriodEnd returns the exclusive end of the period starting at start.
func (tf MTimeframe) PeriodEnd(start int64) int64 {
	switch tf {
	case TimeframeWeek:
		return time.Unix(start, 0).UTC().AddDate(0, 0, 7).Unix()
	case TimeframeMonth:
		return time.Unix(start, 0).UTC().AddDate(0, 1, 0).Unix()
	}
	return start + int64(tf.Duration()/time.Second)
}

func windowBoundaries(ts int64, window int64) (int64, int64) {
	start := ts - (ts % window)
	return start, start + window
}

// -----------------------------------------------------------------------------

// MCandle is one OHLCV bar. Inbound candle ticks use the same shape: their
// values are cumulative for the period, not increments.
type MCandle struct {
	Symbol     string     `json:"symbol"`
	Timeframe  MTimeframe `json:"timeframe"`
	StartTime  int64      `json:"time"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     float64    `json:"volume"`
	IsComplete bool       `json:"isComplete"`
}

// Key identifies the stream a candle belongs to.
func (c MCandle) Key() string {
	return c.Symbol + "|" + string(c.Timeframe)
}
