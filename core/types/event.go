package types

// Event represents a typed event emitted during ledger state transitions.
// Attributes carry string-rendered amounts so downstream consumers never
// depend on binary encodings.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
