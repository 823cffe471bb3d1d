package domain

// EventType classifies a change-feed event.
type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

// Event is one entry of the model-file change feed. Item is a snapshot of
// the record at the time of the change; for DELETED events it is the last
// known state.
type Event struct {
	Type EventType `json:"type"`
	Item ModelFile `json:"item"`
}
