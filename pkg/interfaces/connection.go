package interfaces

// Connection represents one client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and routing logic
type Connection interface {
	// ID returns the server-assigned connection identity
	ID() string

	// WriteJSON queues a JSON frame for the client (thread-safe, non-blocking)
	WriteJSON(v any) error

	// Close closes the connection and cleans up resources
	Close() error
}
