// Package functions holds the background functions MindWell registers with
// the job server.
package functions

import (
	"context"
	"log/slog"
	"time"

	"mindwell/internal/activity"
	"mindwell/internal/chat"
	"mindwell/internal/jobs"
	"mindwell/internal/mood"
)

// Function ids
const (
	ProcessChatMessageID     = "process-chat-message"
	TrackMoodID              = "track-mood"
	TrackActivityID          = "track-activity"
	CleanupExpiredSessionsID = "cleanup-expired-sessions"
)

// CleanupSchedule runs the session cleanup at the top of every hour
const CleanupSchedule = "@hourly"

// ChatCounter keeps session message counts current
type ChatCounter interface {
	SyncMessageCount(ctx context.Context, sessionID string) (*chat.Session, error)
}

// MoodSummarizer keeps per-user mood summaries current
type MoodSummarizer interface {
	RefreshSummary(ctx context.Context, userID string) (*mood.Summary, error)
}

// ActivityTallier keeps daily activity tallies current
type ActivityTallier interface {
	RefreshTally(ctx context.Context, userID, day string) (*activity.Tally, error)
}

// SessionPurger removes expired login sessions
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// Deps are the services the functions act on
type Deps struct {
	Chat     ChatCounter
	Mood     MoodSummarizer
	Activity ActivityTallier
	Sessions SessionPurger
}

// All returns every application function
func All(d Deps) []*jobs.Function {
	return []*jobs.Function{
		ProcessChatMessage(d.Chat),
		TrackMood(d.Mood),
		TrackActivity(d.Activity),
		CleanupExpiredSessions(d.Sessions),
	}
}

// ProcessChatMessage updates the session's message count after a message
func ProcessChatMessage(counter ChatCounter) *jobs.Function {
	return jobs.CreateFunction(
		jobs.FunctionOptions{ID: ProcessChatMessageID, Name: "Process chat message"},
		jobs.Trigger{Event: jobs.EventChatMessage},
		func(ctx context.Context, in jobs.Input) (any, error) {
			sessionID, err := required(in.Event, "sessionId")
			if err != nil {
				return nil, err
			}
			session, err := counter.SyncMessageCount(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			in.Logger.InfoContext(ctx, "chat session updated",
				slog.String("session_id", sessionID),
				slog.Int("message_count", session.MessageCount))
			return map[string]any{"sessionId": sessionID, "messageCount": session.MessageCount}, nil
		},
	)
}

// TrackMood refreshes the user's mood summary after a check-in
func TrackMood(summarizer MoodSummarizer) *jobs.Function {
	return jobs.CreateFunction(
		jobs.FunctionOptions{ID: TrackMoodID, Name: "Track mood"},
		jobs.Trigger{Event: jobs.EventMoodUpdated},
		func(ctx context.Context, in jobs.Input) (any, error) {
			userID, err := required(in.Event, "userId")
			if err != nil {
				return nil, err
			}
			summary, err := summarizer.RefreshSummary(ctx, userID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"userId": userID, "count": summary.Count, "average": summary.Average}, nil
		},
	)
}

// TrackActivity refreshes the user's tally for the activity's day
func TrackActivity(tallier ActivityTallier) *jobs.Function {
	return jobs.CreateFunction(
		jobs.FunctionOptions{ID: TrackActivityID, Name: "Track activity"},
		jobs.Trigger{Event: jobs.EventActivityCompleted},
		func(ctx context.Context, in jobs.Input) (any, error) {
			userID, err := required(in.Event, "userId")
			if err != nil {
				return nil, err
			}
			day := in.Event.DataString("day")
			if day == "" {
				day = in.Event.Time().Format(activity.DayLayout)
			}
			tally, err := tallier.RefreshTally(ctx, userID, day)
			if err != nil {
				return nil, err
			}
			return map[string]any{"userId": userID, "day": day, "count": tally.Count}, nil
		},
	)
}

// CleanupExpiredSessions purges login sessions past their lifetime
func CleanupExpiredSessions(purger SessionPurger) *jobs.Function {
	return jobs.CreateFunction(
		jobs.FunctionOptions{ID: CleanupExpiredSessionsID, Name: "Clean up expired sessions", Retries: jobs.NoRetries},
		jobs.Trigger{Cron: CleanupSchedule},
		func(ctx context.Context, in jobs.Input) (any, error) {
			start := time.Now()
			n, err := purger.PurgeExpiredSessions(ctx)
			if err != nil {
				return nil, err
			}
			in.Logger.InfoContext(ctx, "session cleanup finished",
				slog.Int64("purged", n),
				slog.Duration("duration", time.Since(start)))
			return map[string]any{"purged": n}, nil
		},
	)
}

func required(e jobs.Event, key string) (string, error) {
	v := e.DataString(key)
	if v == "" {
		return "", jobs.NonRetriable(&MissingFieldError{Event: e.Name, Field: key})
	}
	return v, nil
}

// MissingFieldError reports an event without a required data field
type MissingFieldError struct {
	Event string
	Field string
}

func (e *MissingFieldError) Error() string {
	return e.Event + ": missing data field " + e.Field
}
