package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Event names published by MindWell
const (
	EventChatMessage       = "therapy/session.message"
	EventMoodUpdated       = "mood/updated"
	EventActivityCompleted = "activity/completed"
	EventScheduledTimer    = "inngest/scheduled.timer"
)

// Event is a named occurrence that may trigger functions
type Event struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
	User map[string]any `json:"user,omitempty"`
	// Ts is the event time in Unix milliseconds
	Ts int64 `json:"ts,omitempty"`
}

// Time returns the event timestamp
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Ts).UTC()
}

// DataString returns a data field as a string, or "" when absent
func (e Event) DataString(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// DataNumber returns a numeric data field. JSON-decoded events hold float64.
func (e Event) DataNumber(key string) (float64, bool) {
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (e *Event) normalize(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Ts == 0 {
		e.Ts = now.UnixMilli()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
}
