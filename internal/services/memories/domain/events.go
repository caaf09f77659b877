package domain

import "time"

// EventType tags events on the collaborator stream
type EventType string

// Event types per the coordinator contract
const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event is one entry on the stream consumed by the GUI collaborator.
// Payload depends on Type: RunState for progress and done, string for log,
// TransferResult for error
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}
