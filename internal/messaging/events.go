package messaging

import "time"

// EventType names a session lifecycle event.
type EventType string

const (
	EventStageCompleted EventType = "stage_completed"
	EventReviewReady    EventType = "review_ready"
	EventSectionRevised EventType = "section_revised"
	EventStageFailed    EventType = "stage_failed"
	EventDocumentDone   EventType = "document_completed"
)

// StageEvent is published whenever a session finishes an upstream action.
type StageEvent struct {
	EventID   string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Stage     string    `json:"stage"`
	Section   int       `json:"section,omitempty"`
	Model     string    `json:"model,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Error     string    `json:"error,omitempty"`
	DocLength int       `json:"docLength"`
	Timestamp time.Time `json:"timestamp"`
}
