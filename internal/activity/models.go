package activity

import (
	"time"
)

// Collection names
const (
	ActivitiesCollection = "activities"
	TalliesCollection    = "activity_tallies"
)

// Activity types accepted by the API
var Types = []string{"meditation", "exercise", "walking", "reading", "journaling", "therapy", "breathing", "social", "other"}

// Activity is one completed activity
type Activity struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Duration is in minutes
	Duration   int       `json:"duration,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Feedback   string    `json:"feedback,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
	UpdatedAt  time.Time `json:"-"`
}

func (a *Activity) DocumentID() string    { return a.ID }
func (a *Activity) DocumentOwner() string { return a.UserID }
func (a *Activity) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	a.ID, a.CreatedAt, a.UpdatedAt = id, createdAt, updatedAt
}

// Tally counts one user's activities on one UTC day
type Tally struct {
	ID      string `json:"-"`
	UserID  string `json:"userId"`
	Day     string `json:"day"`
	Count   int    `json:"count"`
	Minutes int    `json:"minutes"`
	// ByType maps activity type to count
	ByType    map[string]int `json:"byType"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (t *Tally) DocumentID() string    { return t.ID }
func (t *Tally) DocumentOwner() string { return t.UserID }
func (t *Tally) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	t.ID, t.CreatedAt, t.UpdatedAt = id, createdAt, updatedAt
}

// CreateInput is the payload of POST /api/activity
type CreateInput struct {
	Type        string `json:"type" validate:"required,oneof=meditation exercise walking reading journaling therapy breathing social other"`
	Name        string `json:"name" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Duration    int    `json:"duration" validate:"min=0,max=1440"`
	Difficulty  string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Feedback    string `json:"feedback" validate:"max=2000"`
}

// ListOptions filters List
type ListOptions struct {
	Type  string
	Limit int
}
