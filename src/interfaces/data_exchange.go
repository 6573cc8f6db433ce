package interfaces

// -----------------------------------------------------------------------------
// IDataExchanger is the downstream surface (REST + websocket) of the service.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Start the server (blocking)
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
