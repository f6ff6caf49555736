package chat

import (
	"time"
)

// Collection names
const (
	SessionsCollection = "chat_sessions"
	MessagesCollection = "chat_messages"
)

// Session statuses
const (
	StatusActive = "active"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one conversation owned by a user
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	MessageCount  int        `json:"messageCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (s *Session) DocumentID() string    { return s.ID }
func (s *Session) DocumentOwner() string { return s.UserID }
func (s *Session) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	s.ID, s.CreatedAt, s.UpdatedAt = id, createdAt, updatedAt
}

// LastActivity reports when the session last received a message, falling
// back to its creation time
func (s *Session) LastActivity() time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.CreatedAt
}

// Message is one entry in a session transcript
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

func (m *Message) DocumentID() string    { return m.ID }
func (m *Message) DocumentOwner() string { return m.UserID }
func (m *Message) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	m.ID, m.CreatedAt, m.UpdatedAt = id, createdAt, updatedAt
}

// CreateSessionInput is the payload of POST /chat/sessions
type CreateSessionInput struct {
	Title string `json:"title" validate:"max=200"`
}

// SendMessageInput is the payload of POST /chat/sessions/{id}/messages
type SendMessageInput struct {
	Message string `json:"message" validate:"required,notblank,max=4000"`
}
