package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mindwell/internal/database"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
	"mindwell/internal/middleware"
)

// Service registers users and manages their sessions. It implements
// middleware.AuthService.
type Service struct {
	users    *database.Collection[User, *User]
	sessions *database.Collection[Session, *Session]
	tokens   *JWTService
	logger   *slog.Logger
	metrics  *infrastructure.BusinessMetrics
	now      func() time.Time
}

var _ middleware.AuthService = (*Service)(nil)

// NewService creates an auth service backed by store
func NewService(store database.DocumentStore, tokens *JWTService, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Service {
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &Service{
		users:    database.NewCollection[User](store, UsersCollection),
		sessions: database.NewCollection[Session](store, SessionsCollection),
		tokens:   tokens,
		logger:   logger.With(slog.String("component", "auth")),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Register creates a new account. Emails are compared case-insensitively.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := normalizeEmail(in.Email)

	if _, err := s.users.FindOne(ctx, database.Query{Fields: map[string]string{"email": email}}); err == nil {
		return nil, apierrors.ErrEmailTaken
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apierrors.ErrEmailTaken
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and opens a new session
func (s *Service) Login(ctx context.Context, in LoginInput, deviceInfo string) (*LoginResult, error) {
	user, err := s.users.FindOne(ctx, database.Query{Fields: map[string]string{"email": normalizeEmail(in.Email)}})
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, in.Password) {
		s.metrics.AuthLogins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failure")))
		return nil, apierrors.ErrInvalidCredentials
	}

	session := &Session{
		UserID:     user.ID,
		DeviceInfo: deviceInfo,
		ExpiresAt:  s.now().Add(s.tokens.TTL()).UTC(),
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.ID, session.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.AuthLogins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "success")))
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)
	return &LoginResult{User: user.Profile(), Token: token, ExpiresAt: expiresAt}, nil
}

// Logout deletes the session, revoking every token bound to it
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.InfoContext(ctx, "user logged out", slog.String("session_id", sessionID))
	return nil
}

// ValidateToken resolves a bearer token to its user. The token must verify
// and its session must still exist and be unexpired.
func (s *Service) ValidateToken(ctx context.Context, token string) (*middleware.UserInfo, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, claims.SessionID())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("session revoked: %w", ErrInvalidToken)
		}
		return nil, err
	}
	if session.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}
	if !session.ExpiresAt.IsZero() && s.now().After(session.ExpiresAt) {
		return nil, ErrExpiredToken
	}

	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("user removed: %w", ErrInvalidToken)
		}
		return nil, err
	}
	return userInfo(user, session.ID), nil
}

// GetUser returns the account with id
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apierrors.NotFoundError("User")
		}
		return nil, err
	}
	return user, nil
}

// PurgeExpiredSessions deletes sessions older than the token lifetime
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.tokens.TTL()).UTC()
	n, err := s.sessions.DeleteMany(ctx, database.Query{Until: cutoff})
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions purged", slog.Int64("count", n))
	}
	return n, nil
}
