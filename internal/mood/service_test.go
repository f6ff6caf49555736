package mood

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindwell/internal/database"
	"mindwell/internal/infrastructure"
	"mindwell/internal/jobs"
)

type fakeSender struct {
	events []jobs.Event
}

func (s *fakeSender) Send(ctx context.Context, events ...jobs.Event) ([]string, error) {
	s.events = append(s.events, events...)
	return nil, nil
}

func score(n int) *int { return &n }

func newTestService(t *testing.T) (*Service, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	return NewService(database.NewMemory(), sender, infrastructure.NewDiscardLogger(), nil), sender
}

func TestService_CreateAndList(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", CreateInput{Score: score(40), Note: " tired "})
	require.NoError(t, err)
	assert.Equal(t, "tired", first.Note)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := svc.Create(ctx, "u1", CreateInput{Score: score(0)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u2", CreateInput{Score: score(90)})
	require.NoError(t, err)

	require.Len(t, sender.events, 3)
	e := sender.events[0]
	assert.Equal(t, jobs.EventMoodUpdated, e.Name)
	assert.Equal(t, "u1", e.DataString("userId"))
	v, ok := e.DataNumber("score")
	require.True(t, ok)
	assert.Equal(t, 40.0, v)

	entries, err := svc.List(ctx, "u1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID)

	limited, err := svc.List(ctx, "u1", ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	future, err := svc.List(ctx, "u1", ListOptions{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)

	past, err := svc.List(ctx, "u1", ListOptions{To: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, past)

	_, err = svc.Create(ctx, "u1", CreateInput{})
	assert.Error(t, err)
}

func TestService_RefreshSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.LatestAt)

	for _, n := range []int{50, 70, 90} {
		_, err := svc.Create(ctx, "u1", CreateInput{Score: score(n)})
		require.NoError(t, err)
	}

	summary, err := svc.RefreshSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, 70.0, summary.Average)
	assert.Equal(t, 50, summary.Min)
	assert.Equal(t, 90, summary.Max)
	assert.Equal(t, 90, summary.LatestScore)
	assert.NotEmpty(t, summary.ID)

	_, err = svc.Create(ctx, "u1", CreateInput{Score: score(10)})
	require.NoError(t, err)
	again, err := svc.RefreshSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, summary.ID, again.ID, "summary is replaced in place")

	stored, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Count)
	assert.Equal(t, 10, stored.Min)
	assert.Equal(t, 55.0, stored.Average)
}

func TestSummarize_Trend(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{Score: 80, CreatedAt: now.Add(-time.Hour)},
		{Score: 60, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{Score: 40, CreatedAt: now.Add(-9 * 24 * time.Hour)},
		{Score: 20, CreatedAt: now.Add(-30 * 24 * time.Hour)},
	}

	s := summarize("u1", entries, now)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 50.0, s.Average)
	assert.Equal(t, 30.0, s.Trend)
	assert.Equal(t, 80, s.LatestScore)

	noHistory := summarize("u1", entries[:2], now)
	assert.Zero(t, noHistory.Trend)

	assert.Equal(t, 66.67, round2(200.0/3))
	assert.Equal(t, -1.5, round2(-1.5))
}

func TestService_Export(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, n := range []int{10, 20} {
		_, err := svc.Create(ctx, "u1", CreateInput{Score: score(n), Note: "n"})
		require.NoError(t, err)
	}

	table, err := svc.Export(ctx, "u1", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Mood", table.Sheet)
	assert.Equal(t, []string{"id", "timestamp", "score", "note"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "10", table.Rows[0][2])
	assert.Equal(t, "20", table.Rows[1][2])
}
