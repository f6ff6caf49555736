package mood

import (
	"time"
)

// Collection names
const (
	EntriesCollection   = "mood_entries"
	SummariesCollection = "mood_summaries"
)

// Entry is one mood check-in; Score ranges from 0 (worst) to 100 (best)
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Score     int       `json:"score"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"-"`
}

func (e *Entry) DocumentID() string    { return e.ID }
func (e *Entry) DocumentOwner() string { return e.UserID }
func (e *Entry) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	e.ID, e.CreatedAt, e.UpdatedAt = id, createdAt, updatedAt
}

// Summary aggregates every entry of one user
type Summary struct {
	ID          string     `json:"-"`
	UserID      string     `json:"userId"`
	Count       int        `json:"count"`
	Average     float64    `json:"average"`
	Min         int        `json:"min"`
	Max         int        `json:"max"`
	LatestScore int        `json:"latestScore"`
	LatestAt    *time.Time `json:"latestAt,omitempty"`
	// Trend is the average of the last week minus the average of the week
	// before; zero when either week is empty
	Trend     float64   `json:"trend"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Summary) DocumentID() string    { return s.ID }
func (s *Summary) DocumentOwner() string { return s.UserID }
func (s *Summary) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	s.ID, s.CreatedAt, s.UpdatedAt = id, createdAt, updatedAt
}

// CreateInput is the payload of POST /api/mood
type CreateInput struct {
	Score *int   `json:"score" validate:"required,min=0,max=100"`
	Note  string `json:"note" validate:"max=1000"`
}

// ListOptions filters List; zero values mean unbounded
type ListOptions struct {
	From  time.Time
	To    time.Time
	Limit int
}
