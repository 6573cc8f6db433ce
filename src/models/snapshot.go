package models

import "time"

// MPriceLevel is one level of a bid or ask ladder. Nil means not received yet.
type MPriceLevel struct {
	Price  *float64 `json:"price,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
}

// -----------------------------------------------------------------------------

// MSnapshot is the last known value of one symbol.
type MSnapshot struct {
	Ticker         string                 `json:"ticker"`
	InstrumentType string                 `json:"instrumentType,omitempty"`
	LastPrice      *float64               `json:"lastPrice,omitempty"`
	ReferencePrice *float64               `json:"referencePrice,omitempty"`
	Change         *float64               `json:"change,omitempty"`
	ChangePercent  *float64               `json:"changePercent,omitempty"`
	TotalVol       *float64               `json:"totalVol,omitempty"`
	Bids           []MPriceLevel          `json:"bids,omitempty"`
	Asks           []MPriceLevel          `json:"asks,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with s.
func (s MSnapshot) Clone() MSnapshot {
	out := s
	if s.Bids != nil {
		out.Bids = append([]MPriceLevel(nil), s.Bids...)
	}
	if s.Asks != nil {
		out.Asks = append([]MPriceLevel(nil), s.Asks...)
	}
	if s.Extra != nil {
		out.Extra = make(map[string]interface{}, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// MQuoteRow is the grid projection of a snapshot. Missing values become zero
// here and nowhere earlier.
type MQuoteRow struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"lastPrice"`
	ReferencePrice float64 `json:"referencePrice"`
	Change         float64 `json:"change"`
	ChangePercent  float64 `json:"changePercent"`
	TotalVol       float64 `json:"totalVol"`
	BidPrice1      float64 `json:"bidPrice1"`
	BidVol1        float64 `json:"bidVol1"`
	AskPrice1      float64 `json:"askPrice1"`
	AskVol1        float64 `json:"askVol1"`
	UpdatedAt      int64   `json:"updatedAt"`
}

// QuoteRowFromSnapshot projects a snapshot into a grid row.
func QuoteRowFromSnapshot(s MSnapshot) MQuoteRow {
	row := MQuoteRow{
		Symbol:         s.Ticker,
		LastPrice:      valueOr(s.LastPrice),
		ReferencePrice: valueOr(s.ReferencePrice),
		Change:         valueOr(s.Change),
		ChangePercent:  valueOr(s.ChangePercent),
		TotalVol:       valueOr(s.TotalVol),
		UpdatedAt:      s.UpdatedAt.UnixMilli(),
	}
	if len(s.Bids) > 0 {
		row.BidPrice1 = valueOr(s.Bids[0].Price)
		row.BidVol1 = valueOr(s.Bids[0].Volume)
	}
	if len(s.Asks) > 0 {
		row.AskPrice1 = valueOr(s.Asks[0].Price)
		row.AskVol1 = valueOr(s.Asks[0].Volume)
	}
	if row.ChangePercent == 0 && s.ChangePercent == nil && row.ReferencePrice != 0 && s.Change != nil {
		row.ChangePercent = row.Change / row.ReferencePrice * 100
	}
	return row
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
