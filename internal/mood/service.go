package mood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mindwell/internal/database"
	"mindwell/internal/exporter"
	"mindwell/internal/infrastructure"
	"mindwell/internal/jobs"
)

const week = 7 * 24 * time.Hour

// EventSender emits background job events
type EventSender interface {
	Send(ctx context.Context, events ...jobs.Event) ([]string, error)
}

// Service records mood entries
type Service struct {
	entries   *database.Collection[Entry, *Entry]
	summaries *database.Collection[Summary, *Summary]
	events    EventSender
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
	now       func() time.Time
}

// NewService creates a mood service. events may be nil.
func NewService(store database.DocumentStore, events EventSender, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Service {
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &Service{
		entries:   database.NewCollection[Entry](store, EntriesCollection),
		summaries: database.NewCollection[Summary](store, SummariesCollection),
		events:    events,
		logger:    logger.With(slog.String("component", "mood")),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Create stores an entry and emits mood/updated
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Entry, error) {
	if in.Score == nil {
		return nil, errors.New("score is required")
	}
	entry := &Entry{UserID: userID, Score: *in.Score, Note: strings.TrimSpace(in.Note)}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return nil, err
	}
	s.metrics.MoodEntries.Add(ctx, 1)

	if s.events != nil {
		_, err := s.events.Send(ctx, jobs.Event{
			Name: jobs.EventMoodUpdated,
			Data: map[string]any{
				"userId":  userID,
				"entryId": entry.ID,
				"score":   entry.Score,
				"note":    entry.Note,
			},
			User: map[string]any{"id": userID},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to emit mood event",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "mood entry recorded",
		slog.String("user_id", userID),
		slog.Int("score", entry.Score))
	return entry, nil
}

// List returns the user's entries in the window, newest first
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]*Entry, error) {
	return s.entries.Find(ctx, database.Query{
		OwnerID: userID,
		Since:   opts.From,
		Until:   opts.To,
		Limit:   opts.Limit,
	})
}

// Summary returns the stored summary, computing it when none exists yet
func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	summary, err := s.summaries.FindOne(ctx, database.Query{OwnerID: userID})
	if err == nil {
		return summary, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	return s.compute(ctx, userID)
}

// RefreshSummary recomputes the user's summary from all entries and stores
// it. Running it more than once is harmless.
func (s *Service) RefreshSummary(ctx context.Context, userID string) (*Summary, error) {
	summary, err := s.compute(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.summaries.FindOne(ctx, database.Query{OwnerID: userID})
	switch {
	case err == nil:
		summary.ID = existing.ID
		err = s.summaries.Replace(ctx, summary)
	case errors.Is(err, database.ErrNotFound):
		err = s.summaries.Insert(ctx, summary)
	}
	if err != nil {
		return nil, fmt.Errorf("store mood summary: %w", err)
	}
	return summary, nil
}

func (s *Service) compute(ctx context.Context, userID string) (*Summary, error) {
	entries, err := s.entries.Find(ctx, database.Query{OwnerID: userID})
	if err != nil {
		return nil, err
	}
	return summarize(userID, entries, s.now()), nil
}

// summarize aggregates entries, which must be newest first
func summarize(userID string, entries []*Entry, now time.Time) *Summary {
	summary := &Summary{UserID: userID, Count: len(entries)}
	if len(entries) == 0 {
		return summary
	}

	latest := entries[0]
	at := latest.CreatedAt
	summary.LatestScore = latest.Score
	summary.LatestAt = &at
	summary.Min, summary.Max = latest.Score, latest.Score

	var total, thisWeek, lastWeek, nThis, nLast int
	for _, e := range entries {
		total += e.Score
		summary.Min = min(summary.Min, e.Score)
		summary.Max = max(summary.Max, e.Score)

		switch age := now.Sub(e.CreatedAt); {
		case age < week:
			thisWeek += e.Score
			nThis++
		case age < 2*week:
			lastWeek += e.Score
			nLast++
		}
	}
	summary.Average = round2(float64(total) / float64(len(entries)))
	if nThis > 0 && nLast > 0 {
		summary.Trend = round2(float64(thisWeek)/float64(nThis) - float64(lastWeek)/float64(nLast))
	}
	return summary
}

func round2(f float64) float64 {
	if f < 0 {
		return -float64(int64(-f*100+0.5)) / 100
	}
	return float64(int64(f*100+0.5)) / 100
}

// Export renders the user's entries in the window as a table, oldest first
func (s *Service) Export(ctx context.Context, userID string, opts ListOptions) (exporter.Table, error) {
	entries, err := s.entries.Find(ctx, database.Query{
		OwnerID: userID,
		Since:   opts.From,
		Until:   opts.To,
		Limit:   opts.Limit,
		Oldest:  true,
	})
	if err != nil {
		return exporter.Table{}, err
	}

	table := exporter.Table{Sheet: "Mood", Headers: []string{"id", "timestamp", "score", "note"}}
	for _, e := range entries {
		table.Append(e.ID, exporter.FormatTime(e.CreatedAt), exporter.FormatInt(int64(e.Score)), e.Note)
	}
	return table, nil
}
