package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindwell/internal/database"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
	"mindwell/internal/jobs"
	"mindwell/internal/security"
)

type published struct {
	topic   string
	msgType string
	data    interface{}
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(ctx context.Context, topic, msgType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic, msgType, data})
}

type fakeSender struct {
	events []jobs.Event
	err    error
}

func (s *fakeSender) Send(ctx context.Context, events ...jobs.Event) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.events = append(s.events, events...)
	return []string{"evt"}, nil
}

func newTestService(t *testing.T) (*Service, *fakePublisher, *fakeSender) {
	t.Helper()
	pub := &fakePublisher{}
	sender := &fakeSender{}
	return NewService(database.NewMemory(), pub, sender, infrastructure.NewDiscardLogger(), nil), pub, sender
}

func TestService_Sessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)
	assert.Equal(t, defaultTitle, first.Title)
	assert.Equal(t, StatusActive, first.Status)

	second, err := svc.CreateSession(ctx, "u1", CreateSessionInput{Title: "  Evening check-in "})
	require.NoError(t, err)
	assert.Equal(t, "Evening check-in", second.Title)

	_, err = svc.CreateSession(ctx, "u2", CreateSessionInput{})
	require.NoError(t, err)

	sessions, err := svc.ListSessions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)

	got, err := svc.GetSession(ctx, "u1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = svc.GetSession(ctx, "u2", first.ID)
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
	_, err = svc.GetSession(ctx, "u1", "missing")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestService_SendMessage(t *testing.T) {
	svc, pub, sender := newTestService(t)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, "u1", session.ID, SendMessageInput{Message: " I slept badly "})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "I slept badly", msg.Content)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, session.ID, pub.sent[0].topic)
	assert.Equal(t, "message", pub.sent[0].msgType)

	require.Len(t, sender.events, 1)
	e := sender.events[0]
	assert.Equal(t, jobs.EventChatMessage, e.Name)
	assert.Equal(t, session.ID, e.DataString("sessionId"))
	assert.Equal(t, msg.ID, e.DataString("messageId"))
	assert.Equal(t, "I slept badly", e.DataString("message"))

	_, err = svc.SendMessage(ctx, "intruder", session.ID, SendMessageInput{Message: "hi"})
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
	assert.Len(t, pub.sent, 1)
}

func TestService_SendMessageSurvivesEventFailure(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)

	sender.err = errors.New("job server down")
	_, err = svc.SendMessage(ctx, "u1", session.ID, SendMessageInput{Message: "still saved"})
	require.NoError(t, err)

	history, err := svc.History(ctx, "u1", session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestService_HistoryAndCount(t *testing.T) {
	svc := NewService(database.NewMemory(), nil, nil, infrastructure.NewDiscardLogger(), nil)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)
	other, err := svc.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, "u1", session.ID, SendMessageInput{Message: text})
		require.NoError(t, err)
	}
	_, err = svc.SendMessage(ctx, "u1", other.ID, SendMessageInput{Message: "elsewhere"})
	require.NoError(t, err)

	history, err := svc.History(ctx, "u1", session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)

	recent, err := svc.History(ctx, "u1", session.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)

	_, err = svc.History(ctx, "u2", session.ID, 0)
	assert.ErrorIs(t, err, apierrors.ErrNotFound)

	synced, err := svc.SyncMessageCount(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, synced.MessageCount)
	require.NotNil(t, synced.LastMessageAt)
	assert.True(t, synced.LastMessageAt.Equal(history[2].CreatedAt))
	assert.Equal(t, *synced.LastMessageAt, synced.LastActivity())

	// idempotent
	again, err := svc.SyncMessageCount(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.MessageCount)

	stored, err := svc.GetSession(ctx, "u1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.MessageCount)

	_, err = svc.SyncMessageCount(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestService_EncryptsContentAtRest(t *testing.T) {
	store := database.NewMemory()
	cipher, err := security.NewContentCipher("a passphrase for tests", &security.EncryptionConfig{
		SCryptN: 1024, SCryptR: 8, SCryptP: 1, SCryptKeyLen: 32, NonceSize: 12,
	})
	require.NoError(t, err)

	pub := &fakePublisher{}
	svc := NewService(store, pub, nil, infrastructure.NewDiscardLogger(), nil, WithCipher(cipher))
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, "u1", session.ID, SendMessageInput{Message: "  I slept badly  "})
	require.NoError(t, err)
	assert.Equal(t, "I slept badly", msg.Content)
	assert.NotEmpty(t, msg.ID)

	// live subscribers see plaintext
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "I slept badly", pub.sent[0].data.(*Message).Content)

	raw, err := store.Get(ctx, MessagesCollection, msg.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw.Body), "slept")
	assert.Contains(t, string(raw.Body), security.SealedPrefix)

	history, err := svc.History(ctx, "u1", session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "I slept badly", history[0].Content)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestService_HistoryReadsPlaintextRows(t *testing.T) {
	store := database.NewMemory()
	ctx := context.Background()

	plain := NewService(store, nil, nil, infrastructure.NewDiscardLogger(), nil)
	session, err := plain.CreateSession(ctx, "u1", CreateSessionInput{})
	require.NoError(t, err)
	_, err = plain.SendMessage(ctx, "u1", session.ID, SendMessageInput{Message: "before"})
	require.NoError(t, err)

	cipher, err := security.NewContentCipher("a passphrase for tests", &security.EncryptionConfig{
		SCryptN: 1024, SCryptR: 8, SCryptP: 1, SCryptKeyLen: 32, NonceSize: 12,
	})
	require.NoError(t, err)
	sealed := NewService(store, nil, nil, infrastructure.NewDiscardLogger(), nil, WithCipher(cipher))
	_, err = sealed.SendMessage(ctx, "u1", session.ID, SendMessageInput{Message: "after"})
	require.NoError(t, err)

	history, err := sealed.History(ctx, "u1", session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "before", history[0].Content)
	assert.Equal(t, "after", history[1].Content)
}
