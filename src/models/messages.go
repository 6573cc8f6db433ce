package models

// -----------------------------------------------------------------------------
// Downstream websocket messages
// -----------------------------------------------------------------------------

// MClientCommand is a command sent by a dashboard client.
type MClientCommand struct {
	Command   string   `json:"command"`
	Symbols   []string `json:"symbols"`
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	From      int64    `json:"from"`
	To        int64    `json:"to"`
}

// -----------------------------------------------------------------------------

// MServerMessage is everything the server pushes to a dashboard client. Only
// the fields relevant to Type are set.
type MServerMessage struct {
	Type      string      `json:"type"`
	ClientID  string      `json:"clientId,omitempty"`
	State     string      `json:"state,omitempty"`
	Rows      interface{} `json:"rows,omitempty"`
	Symbol    string      `json:"symbol,omitempty"`
	Timeframe string      `json:"timeframe,omitempty"`
	Bars      []MCandle   `json:"bars,omitempty"`
	Bar       *MCandle    `json:"bar,omitempty"`
	NoData    bool        `json:"noData,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

const (
	MessageWelcome = "welcome"
	MessageState   = "state"
	MessageRows    = "rows"
	MessageGrid    = "grid"
	MessageBars    = "bars"
	MessageBar     = "bar"
	MessageError   = "error"
)
