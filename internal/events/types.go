package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by the learner.
const (
	TypeGoalTrained       = "qlearner.goal.trained"
	TypeGoalSkipped       = "qlearner.goal.skipped"
	TypeActionRecommended = "qlearner.action.recommended"
)

// Event is the envelope published on the bus.
type Event struct {
	EventID   string                 `json:"event_id"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	GoalKey   string                 `json:"goal_key,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(source, typ, goalKey string, payload map[string]interface{}) Event {
	return Event{
		EventID:   uuid.New().String(),
		Source:    source,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		GoalKey:   goalKey,
		Payload:   payload,
	}
}

// MinimalValidate checks required fields.
func (e *Event) MinimalValidate() bool {
	return e.EventID != "" && e.Source != "" && e.Type != "" && !e.Timestamp.IsZero()
}
