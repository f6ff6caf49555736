package activity

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
	"mindwell/internal/infrastructure"
	"mindwell/internal/jobs"
)

// DayLayout formats tally days
const DayLayout = "2006-01-02"

// EventSender emits background job events
type EventSender interface {
	Send(ctx context.Context, events ...jobs.Event) ([]string, error)
}

// Service logs activities
type Service struct {
	activities *database.Collection[Activity, *Activity]
	tallies    *database.Collection[Tally, *Tally]
	events     EventSender
	logger     *slog.Logger
	metrics    *infrastructure.BusinessMetrics
	now        func() time.Time
}

// NewService creates an activity service. events may be nil.
func NewService(store database.DocumentStore, events EventSender, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Service {
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &Service{
		activities: database.NewCollection[Activity](store, ActivitiesCollection),
		tallies:    database.NewCollection[Tally](store, TalliesCollection),
		events:     events,
		logger:     logger.With(slog.String("component", "activity")),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Create logs an activity and emits activity/completed
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Activity, error) {
	a := &Activity{
		UserID:      userID,
		Type:        in.Type,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Duration:    in.Duration,
		Difficulty:  in.Difficulty,
		Feedback:    strings.TrimSpace(in.Feedback),
	}
	if err := s.activities.Insert(ctx, a); err != nil {
		return nil, err
	}
	s.metrics.ActivityEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("type", a.Type)))

	if s.events != nil {
		_, err := s.events.Send(ctx, jobs.Event{
			Name: jobs.EventActivityCompleted,
			Data: map[string]any{
				"userId":     userID,
				"activityId": a.ID,
				"type":       a.Type,
				"name":       a.Name,
				"duration":   a.Duration,
				"day":        a.CreatedAt.UTC().Format(DayLayout),
			},
			User: map[string]any{"id": userID},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to emit activity event",
				slog.String("activity_id", a.ID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "activity logged",
		slog.String("user_id", userID),
		slog.String("type", a.Type))
	return a, nil
}

// List returns the user's activities, newest first
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]*Activity, error) {
	q := database.Query{OwnerID: userID, Limit: opts.Limit}
	if opts.Type != "" {
		q.Fields = map[string]string{"type": opts.Type}
	}
	return s.activities.Find(ctx, q)
}

// Today returns the activities logged since the start of the current UTC day
func (s *Service) Today(ctx context.Context, userID string) ([]*Activity, error) {
	start, end := dayBounds(s.now())
	return s.activities.Find(ctx, database.Query{OwnerID: userID, Since: start, Until: end})
}

// RefreshTally recomputes the user's tally for day (YYYY-MM-DD) and stores
// it. Running it more than once is harmless.
func (s *Service) RefreshTally(ctx context.Context, userID, day string) (*Tally, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	start, end := dayBounds(t)

	activities, err := s.activities.Find(ctx, database.Query{OwnerID: userID, Since: start, Until: end})
	if err != nil {
		return nil, err
	}

	tally := &Tally{UserID: userID, Day: day, ByType: make(map[string]int)}
	for _, a := range activities {
		tally.Count++
		tally.Minutes += a.Duration
		tally.ByType[a.Type]++
	}

	q := database.Query{OwnerID: userID, Fields: map[string]string{"day": day}}
	existing, err := s.tallies.FindOne(ctx, q)
	switch {
	case err == nil:
		tally.ID = existing.ID
		err = s.tallies.Replace(ctx, tally)
	case errors.Is(err, database.ErrNotFound):
		err = s.tallies.Insert(ctx, tally)
	}
	if err != nil {
		return nil, fmt.Errorf("store activity tally: %w", err)
	}
	return tally, nil
}

// GetTally returns the stored tally for day
func (s *Service) GetTally(ctx context.Context, userID, day string) (*Tally, error) {
	return s.tallies.FindOne(ctx, database.Query{OwnerID: userID, Fields: map[string]string{"day": day}})
}

// dayBounds returns the first and last instant of t's UTC day
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := t.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24*time.Hour - time.Microsecond)
}
