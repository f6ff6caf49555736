package auth

import (
	"strings"
	"time"

	"mindwell/internal/middleware"
)

// Collection names
const (
	UsersCollection    = "users"
	SessionsCollection = "auth_sessions"
)

// User is a registered account
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) DocumentID() string    { return u.ID }
func (u *User) DocumentOwner() string { return "" }
func (u *User) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	u.ID, u.CreatedAt, u.UpdatedAt = id, createdAt, updatedAt
}

// Profile is the public view of a user
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile returns the public view of u
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Session is a login; tokens are valid only while their session exists
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (s *Session) DocumentID() string    { return s.ID }
func (s *Session) DocumentOwner() string { return s.UserID }
func (s *Session) SetDocumentMeta(id string, createdAt, updatedAt time.Time) {
	s.ID, s.CreatedAt, s.UpdatedAt = id, createdAt, updatedAt
}

// RegisterInput is the payload of POST /auth/register
type RegisterInput struct {
	Name     string `json:"name" validate:"required,notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginInput is the payload of POST /auth/login
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned by a successful login
type LoginResult struct {
	User      Profile   `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userInfo(u *User, sessionID string) *middleware.UserInfo {
	return &middleware.UserInfo{ID: u.ID, Name: u.Name, Email: u.Email, SessionID: sessionID}
}
