package models

// MConnectionState is the lifecycle state of the upstream stream connection.
type MConnectionState string

const (
	StateDisconnected MConnectionState = "disconnected"
	StateConnecting   MConnectionState = "connecting"
	StateConnected    MConnectionState = "connected"
	StateReconnecting MConnectionState = "reconnecting"
	StateError        MConnectionState = "error"
)

// -----------------------------------------------------------------------------

// MFrame is one normalized inbound message. Fields carry canonical camelCase
// keys; numeric strings are already parsed to float64.
type MFrame struct {
	Kind   string
	Fields map[string]interface{}
}

// -----------------------------------------------------------------------------

// Outbound method names understood by the upstream endpoint.
const (
	MethodSubscribe      = "subscribeToSymbols"
	MethodUnsubscribe    = "unsubscribeFromSymbols"
	MethodSubscribeAll   = "subscribeToAll"
	MethodUnsubscribeAll = "unsubscribeFromAll"
)

// Inbound frame kinds.
const (
	FrameTick   = "tick"
	FrameQuote  = "quote"
	FrameStock  = "stock"
	FrameCandle = "candle"
	FrameResult = "result"
)
