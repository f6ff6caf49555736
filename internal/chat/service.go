package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mindwell/internal/database"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
	"mindwell/internal/jobs"
)

const defaultTitle = "New Session"

// Publisher streams a message to the live subscribers of a topic
type Publisher interface {
	Publish(ctx context.Context, topic, msgType string, data interface{})
}

// EventSender emits background job events
type EventSender interface {
	Send(ctx context.Context, events ...jobs.Event) ([]string, error)
}

// ContentCipher encrypts message content at rest
type ContentCipher interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// Option configures a Service
type Option func(*Service)

// WithCipher stores message content sealed by c. Plaintext rows stored
// before the cipher was configured are still returned as-is.
func WithCipher(c ContentCipher) Option {
	return func(s *Service) {
		s.cipher = c
	}
}

// Service manages chat sessions. Every operation is scoped to the calling
// user; sessions owned by someone else are reported as not found.
type Service struct {
	sessions  *database.Collection[Session, *Session]
	messages  *database.Collection[Message, *Message]
	publisher Publisher
	events    EventSender
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
	cipher    ContentCipher
}

// NewService creates a chat service. publisher and events may be nil.
func NewService(store database.DocumentStore, publisher Publisher, events EventSender, logger *slog.Logger, metrics *infrastructure.BusinessMetrics, opts ...Option) *Service {
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	s := &Service{
		sessions:  database.NewCollection[Session](store, SessionsCollection),
		messages:  database.NewCollection[Message](store, MessagesCollection),
		publisher: publisher,
		events:    events,
		logger:    logger.With(slog.String("component", "chat")),
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a new session for userID
func (s *Service) CreateSession(ctx context.Context, userID string, in CreateSessionInput) (*Session, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle
	}
	session := &Session{UserID: userID, Title: title, Status: StatusActive}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "chat session created",
		slog.String("session_id", session.ID),
		slog.String("user_id", userID))
	return session, nil
}

// ListSessions returns the user's sessions, newest first
func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error) {
	return s.sessions.Find(ctx, database.Query{OwnerID: userID, Limit: limit})
}

// GetSession returns a session owned by userID
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apierrors.NotFoundError("Session")
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, apierrors.NotFoundError("Session")
	}
	return session, nil
}

// SendMessage stores a user message, streams it to live subscribers and
// emits a therapy/session.message event. A failed event send is logged; the
// message is already stored.
func (s *Service) SendMessage(ctx context.Context, userID, sessionID string, in SendMessageInput) (*Message, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	msg := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      RoleUser,
		Content:   strings.TrimSpace(in.Message),
	}
	if err := s.insertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.metrics.ChatMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("role", msg.Role)))

	if s.publisher != nil {
		s.publisher.Publish(ctx, sessionID, "message", msg)
	}

	if s.events != nil {
		_, err := s.events.Send(ctx, jobs.Event{
			Name: jobs.EventChatMessage,
			Data: map[string]any{
				"sessionId": sessionID,
				"messageId": msg.ID,
				"userId":    userID,
				"message":   msg.Content,
			},
			User: map[string]any{"id": userID},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to emit chat message event",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
	}

	return msg, nil
}

// History returns up to limit of the most recent messages of a session,
// oldest first. A limit of zero returns the whole transcript.
func (s *Service) History(ctx context.Context, userID, sessionID string, limit int) ([]*Message, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.Find(ctx, database.Query{
		Fields: map[string]string{"sessionId": sessionID},
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	if s.cipher != nil {
		for _, m := range msgs {
			if m.Content, err = s.cipher.Open(m.Content); err != nil {
				return nil, fmt.Errorf("open message %s: %w", m.ID, err)
			}
		}
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// insertMessage stores msg, sealing a copy of its content when a cipher is
// configured. msg keeps the plaintext and receives the stored ID and times.
func (s *Service) insertMessage(ctx context.Context, msg *Message) error {
	if s.cipher == nil {
		return s.messages.Insert(ctx, msg)
	}
	sealed, err := s.cipher.Seal(msg.Content)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}
	stored := *msg
	stored.Content = sealed
	if err := s.messages.Insert(ctx, &stored); err != nil {
		return err
	}
	msg.SetDocumentMeta(stored.ID, stored.CreatedAt, stored.UpdatedAt)
	return nil
}

// SyncMessageCount recomputes a session's message count and last message
// time from its stored messages. Running it more than once is harmless.
func (s *Service) SyncMessageCount(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	q := database.Query{Fields: map[string]string{"sessionId": sessionID}}
	n, err := s.messages.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	session.MessageCount = int(n)

	q.Limit = 1
	if latest, err := s.messages.Find(ctx, q); err != nil {
		return nil, err
	} else if len(latest) == 1 {
		at := latest[0].CreatedAt
		session.LastMessageAt = &at
	}

	if err := s.sessions.Replace(ctx, session); err != nil {
		return nil, fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return session, nil
}
