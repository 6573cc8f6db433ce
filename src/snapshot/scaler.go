package snapshot

import (
	"strings"

	"market-stream/src/models"

	"github.com/shopspring/decimal"
)

// PriceScaler converts upstream price units to display units. The divisor is
// chosen by instrument type; a missing divisor means prices pass unchanged.
type PriceScaler struct {
	defaultType string
	divisors    map[string]decimal.Decimal
	types       map[string]string
	precision   int32
}

// NewPriceScaler builds a scaler from instrument configuration.
func NewPriceScaler(cfg models.MInstrumentConfig) *PriceScaler {
	p := &PriceScaler{
		defaultType: strings.ToLower(cfg.DefaultType),
		divisors:    make(map[string]decimal.Decimal, len(cfg.Divisors)),
		types:       make(map[string]string, len(cfg.Types)),
		precision:   cfg.Precision,
	}
	for kind, d := range cfg.Divisors {
		p.divisors[strings.ToLower(kind)] = decimal.NewFromInt(d)
	}
	for symbol, kind := range cfg.Types {
		p.types[strings.ToUpper(symbol)] = strings.ToLower(kind)
	}
	return p
}

// TypeOf returns the configured instrument type of symbol.
func (p *PriceScaler) TypeOf(symbol string) string {
	if p == nil {
		return ""
	}
	if kind, ok := p.types[strings.ToUpper(symbol)]; ok {
		return kind
	}
	return p.defaultType
}

// Scale divides v by the divisor of kind and rounds to the configured
// precision.
func (p *PriceScaler) Scale(kind string, v float64) float64 {
	if p == nil {
		return v
	}
	d, ok := p.divisors[strings.ToLower(kind)]
	if !ok || d.Equal(decimal.NewFromInt(1)) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Div(d).Round(p.precision).Float64()
	return f
}
