package types

// Event represents a typed event emitted during settlement state transitions.
// Attributes are flat string pairs so downstream indexers can persist them
// without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
