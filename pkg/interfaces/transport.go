package interfaces

// Transport delivers events to connections and named groups
// ARCHITECTURAL DISCOVERY: Group membership is the only routing primitive the
// router needs, which keeps it independent of any networking library
type Transport interface {
	// Join adds a connection to a group; joining twice is a no-op
	Join(connID, group string)

	// Leave removes a connection from a group; idempotent
	Leave(connID, group string)

	// SendToOne delivers an event to a single connection
	SendToOne(connID string, event any) error

	// SendToGroup delivers an event to every member of group
	SendToGroup(group string, event any)

	// SendToAll delivers an event to every live connection
	SendToAll(event any)
}
