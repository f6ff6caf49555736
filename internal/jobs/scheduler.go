package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Scheduler enqueues runs of cron-triggered functions
type Scheduler struct {
	cron    *cron.Cron
	queue   *Queue
	logger  *slog.Logger
	entries map[string]cron.EntryID
}

// NewScheduler creates a scheduler feeding queue. Schedules use the standard
// five-field cron syntax and descriptors such as @hourly.
func NewScheduler(queue *Queue, logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		queue:   queue,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers fn on its cron trigger
func (s *Scheduler) Add(fn *Function) error {
	spec := fn.Trigger.Cron
	id, err := s.cron.AddFunc(spec, func() { s.Fire(context.Background(), fn) })
	if err != nil {
		return fmt.Errorf("function %s: invalid cron %q: %w", fn.ID, spec, err)
	}
	s.entries[fn.ID] = id
	return nil
}

// Fire enqueues one run of fn with a synthetic timer event
func (s *Scheduler) Fire(ctx context.Context, fn *Function) {
	event := Event{
		Name: EventScheduledTimer,
		Data: map[string]any{"cron": fn.Trigger.Cron, "function_id": fn.ID},
	}
	event.normalize(time.Now())

	if _, err := s.queue.Enqueue(ctx, fn, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue scheduled run",
			slog.String("function_id", fn.ID),
			slog.String("error", err.Error()))
	}
}

// Next returns the next activation of the function, or zero if unscheduled
func (s *Scheduler) Next(functionID string) time.Time {
	id, ok := s.entries[functionID]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", slog.Int("entries", len(s.entries)))
	s.cron.Start()
}

// Stop halts new activations and waits for running ones or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
