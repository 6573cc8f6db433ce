package utils

import (
	"strings"
	"sync"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers market-hours questions using scmhub/calendar.
type TradingCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// Ticker suffix to MIC (ISO 10383). Plain tickers use the configured default.
var suffixMIC = map[string]string{
	".L": "xlon", ".PA": "xpar", ".DE": "xfra", ".AS": "xams", ".BR": "xbru",
	".MI": "xmil", ".MC": "xmad", ".ST": "xsto", ".CO": "xcse", ".HE": "xhel",
	".VI": "xwbo", ".SW": "xswx", ".TO": "xtse", ".V": "xtsx", ".T": "xtks",
	".HK": "xhkg", ".AX": "xasx", ".KS": "xkrx", ".TW": "xtai", ".SS": "xshg",
	".SZ": "xshe",
}

var (
	calendarsMu sync.Mutex
	calendars   = map[string]*TradingCalendar{}
)

// -----------------------------------------------------------------------------

// MICFor maps a ticker to its exchange code.
func MICFor(symbol, defaultMIC string) string {
	if i := strings.LastIndex(symbol, "."); i > 0 {
		if mic, ok := suffixMIC[strings.ToUpper(symbol[i:])]; ok {
			return mic
		}
	}
	if defaultMIC == "" {
		return "xnys"
	}
	return strings.ToLower(defaultMIC)
}

// GetCalendar returns the shared calendar of the symbol's exchange. Unknown
// exchanges get a Mon-Fri 09:00-17:00 UTC fallback.
func GetCalendar(symbol, defaultMIC string) *TradingCalendar {
	mic := MICFor(symbol, defaultMIC)

	calendarsMu.Lock()
	defer calendarsMu.Unlock()
	if tc, ok := calendars[mic]; ok {
		return tc
	}

	var tc *TradingCalendar
	if cal := calendar.GetCalendar(mic); cal != nil {
		tc = &TradingCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
	} else {
		tc = &TradingCalendar{MIC: mic, Fallback: true, Timezone: time.UTC}
	}
	calendars[mic] = tc
	return tc
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at a specific minute.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		hour := t.Hour()
		return hour >= 9 && hour < 17
	}

	return tc.Calendar.IsOpen(t)
}
