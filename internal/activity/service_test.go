package activity

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

func newTestService(t *testing.T) (*Service, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	return NewService(database.NewMemory(), sender, infrastructure.NewDiscardLogger(), nil), sender
}

func TestService_CreateAndList(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()

	walk, err := svc.Create(ctx, "u1", CreateInput{Type: "walking", Name: " Evening walk ", Duration: 30, Difficulty: "easy"})
	require.NoError(t, err)
	assert.Equal(t, "Evening walk", walk.Name)
	assert.NotEmpty(t, walk.ID)

	_, err = svc.Create(ctx, "u1", CreateInput{Type: "meditation", Name: "Body scan", Duration: 10})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u2", CreateInput{Type: "walking", Name: "Other user"})
	require.NoError(t, err)

	require.Len(t, sender.events, 3)
	e := sender.events[0]
	assert.Equal(t, jobs.EventActivityCompleted, e.Name)
	assert.Equal(t, walk.ID, e.DataString("activityId"))
	assert.Equal(t, walk.CreatedAt.UTC().Format(DayLayout), e.DataString("day"))

	all, err := svc.List(ctx, "u1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Body scan", all[0].Name)

	walks, err := svc.List(ctx, "u1", ListOptions{Type: "walking"})
	require.NoError(t, err)
	require.Len(t, walks, 1)
	assert.Equal(t, walk.ID, walks[0].ID)

	one, err := svc.List(ctx, "u1", ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestService_Today(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", CreateInput{Type: "reading", Name: "Novel"})
	require.NoError(t, err)

	today, err := svc.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, today, 1)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	later, err := svc.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestService_RefreshTally(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "u1", CreateInput{Type: "exercise", Name: "Run", Duration: 25})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", CreateInput{Type: "exercise", Name: "Swim", Duration: 20})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", CreateInput{Type: "journaling", Name: "Gratitude"})
	require.NoError(t, err)

	day := a.CreatedAt.UTC().Format(DayLayout)
	tally, err := svc.RefreshTally(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, 3, tally.Count)
	assert.Equal(t, 45, tally.Minutes)
	assert.Equal(t, map[string]int{"exercise": 2, "journaling": 1}, tally.ByType)

	again, err := svc.RefreshTally(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, tally.ID, again.ID)

	stored, err := svc.GetTally(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Count)

	_, err = svc.GetTally(ctx, "u1", "1999-01-01")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = svc.RefreshTally(ctx, "u1", "yesterday")
	assert.ErrorContains(t, err, "invalid day")
}

func TestDayBounds(t *testing.T) {
	ts := time.Date(2025, 6, 1, 23, 59, 0, 0, time.FixedZone("x", -2*3600))
	start, end := dayBounds(ts)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), start)
	assert.True(t, end.Before(start.Add(24*time.Hour)))
	assert.Equal(t, 2, end.Day())
}
