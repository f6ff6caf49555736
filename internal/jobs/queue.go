package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindwell/internal/infrastructure"
)

// ErrQueueFull is returned when the run buffer has no room
var ErrQueueFull = errors.New("job queue is full")

// ErrQueueStopped is returned when enqueueing after Stop
var ErrQueueStopped = errors.New("job queue is stopped")

// PanicError is the failure recorded for a handler that panicked. Panics are
// never retried.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("function panicked: %v", e.Value)
}

type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable marks err so the queue fails the run without further attempts
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriableError{err: err}
}

func retriable(err error) bool {
	var nr *nonRetriableError
	var pe *PanicError
	return !errors.As(err, &nr) && !errors.As(err, &pe)
}

// QueueOptions configures NewQueue
type QueueOptions struct {
	Workers        int
	Size           int
	DefaultRetries int
	// Backoff is the delay before the first retry; it doubles per attempt
	Backoff    time.Duration
	MaxBackoff time.Duration
	Store      RunStore
	Metrics    *infrastructure.BusinessMetrics
	Logger     *slog.Logger
}

type task struct {
	run     *Run
	fn      *Function
	event   Event
	traceID string
}

// Queue executes function runs on a fixed pool of workers
type Queue struct {
	mu             sync.RWMutex
	tasks          chan *task
	workers        int
	wg             sync.WaitGroup
	store          RunStore
	metrics        *infrastructure.BusinessMetrics
	logger         *slog.Logger
	shutdown       chan struct{}
	stopOnce       sync.Once
	enqueueMu      sync.RWMutex // Held by Enqueue; Stop takes it to fence new runs
	stopped        bool
	active         map[string]struct{} // Currently executing runs
	defaultRetries int
	backoff        time.Duration
	maxBackoff     time.Duration
}

// NewQueue creates a new run queue
func NewQueue(opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Size <= 0 {
		opts.Size = opts.Workers * 2
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Store == nil {
		opts.Store = NewMemoryRunStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = infrastructure.NoopBusinessMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Queue{
		tasks:          make(chan *task, opts.Size),
		workers:        opts.Workers,
		store:          opts.Store,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With(slog.String("component", "jobqueue")),
		shutdown:       make(chan struct{}),
		active:         make(map[string]struct{}),
		defaultRetries: opts.DefaultRetries,
		backoff:        opts.Backoff,
		maxBackoff:     opts.MaxBackoff,
	}
}

// Start begins processing runs
func (q *Queue) Start(ctx context.Context) {
	q.logger.InfoContext(ctx, "starting job queue", slog.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop gracefully shuts down the queue, waiting for in-flight runs. Runs
// still buffered are failed with ErrQueueStopped.
func (q *Queue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() {
		q.enqueueMu.Lock()
		q.stopped = true
		q.logger.Info("stopping job queue", slog.Int("backlog", len(q.tasks)))
		close(q.shutdown)
		q.enqueueMu.Unlock()
		q.drain()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped gracefully")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("job queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue records a pending run of fn for event and hands it to a worker
func (q *Queue) Enqueue(ctx context.Context, fn *Function, event Event) (*Run, error) {
	q.enqueueMu.RLock()
	defer q.enqueueMu.RUnlock()
	if q.stopped {
		return nil, ErrQueueStopped
	}

	run := q.newRun(fn, event)
	if err := q.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	// the worker owns run from here on
	pending := *run
	t := &task{run: run, fn: fn, event: event, traceID: infrastructure.GetTraceID(ctx)}
	select {
	case q.tasks <- t:
		q.metrics.JobQueueBacklog.Add(ctx, 1)
		q.logger.DebugContext(ctx, "run enqueued",
			slog.String("run_id", run.ID),
			slog.String("function_id", fn.ID),
			slog.String("event", event.Name))
		return &pending, nil
	default:
		run.Status = RunStatusFailed
		run.Error = ErrQueueFull.Error()
		completedAt := time.Now()
		run.CompletedAt = &completedAt
		_ = q.store.UpdateRun(run)
		return nil, ErrQueueFull
	}
}

// Execute runs fn once on the calling goroutine and records the run
func (q *Queue) Execute(ctx context.Context, fn *Function, event Event) (*Run, error) {
	run := q.newRun(fn, event)
	if err := q.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	logger := q.runLogger(run)
	q.markStarted(run, logger)
	start := time.Now()
	output, err := q.invoke(ctx, fn, event, run, 1, logger)
	run.Attempts = 1
	q.finish(ctx, run, fn, output, err, time.Since(start), logger)
	return run, err
}

// drain fails every run left in the buffer once the queue is stopped
func (q *Queue) drain() {
	ctx := context.Background()
	for {
		select {
		case t := <-q.tasks:
			q.metrics.JobQueueBacklog.Add(ctx, -1)
			t.run.Status = RunStatusFailed
			t.run.Error = ErrQueueStopped.Error()
			completedAt := time.Now()
			t.run.CompletedAt = &completedAt
			if err := q.store.UpdateRun(t.run); err != nil {
				q.logger.Error("failed to update run status",
					slog.String("run_id", t.run.ID),
					slog.String("error", err.Error()))
			}
			q.logger.Warn("run dropped at shutdown",
				slog.String("run_id", t.run.ID),
				slog.String("function_id", t.fn.ID))
		default:
			return
		}
	}
}

// GetRun retrieves a run by ID
func (q *Queue) GetRun(id string) (*Run, error) {
	return q.store.GetRun(id)
}

// ListRuns returns runs matching the filter
func (q *Queue) ListRuns(filter RunFilter) ([]*Run, error) {
	return q.store.ListRuns(filter)
}

// QueueStats is a point-in-time view of the queue
type QueueStats struct {
	Workers    int `json:"workers"`
	Buffered   int `json:"buffered"`
	Capacity   int `json:"capacity"`
	ActiveRuns int `json:"active_runs"`
}

// Stats returns queue statistics
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	activeCount := len(q.active)
	q.mu.RUnlock()

	return QueueStats{
		Workers:    q.workers,
		Buffered:   len(q.tasks),
		Capacity:   cap(q.tasks),
		ActiveRuns: activeCount,
	}
}

func (q *Queue) newRun(fn *Function, event Event) *Run {
	return &Run{
		ID:         uuid.NewString(),
		FunctionID: fn.ID,
		EventID:    event.ID,
		EventName:  event.Name,
		Status:     RunStatusPending,
		CreatedAt:  time.Now(),
	}
}

func (q *Queue) runLogger(run *Run) *slog.Logger {
	return q.logger.With(
		slog.String("run_id", run.ID),
		slog.String("function_id", run.FunctionID),
		slog.String("event", run.EventName),
	)
}

// worker processes runs from the queue
func (q *Queue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case t := <-q.tasks:
			q.metrics.JobQueueBacklog.Add(ctx, -1)
			q.process(ctx, t)
		}
	}
}

// process executes a run, retrying failures with exponential backoff
func (q *Queue) process(ctx context.Context, t *task) {
	if t.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, t.traceID)
	}
	run := t.run
	logger := q.runLogger(run)

	q.mu.Lock()
	q.active[run.ID] = struct{}{}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.active, run.ID)
		q.mu.Unlock()
	}()

	q.markStarted(run, logger)
	start := time.Now()

	var (
		output any
		err    error
	)
	attempts := t.fn.maxAttempts(q.defaultRetries)
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err = q.invoke(ctx, t.fn, t.event, run, attempt, logger)
		run.Attempts = attempt
		if err == nil || !retriable(err) || attempt == attempts {
			break
		}

		delay := q.backoffFor(attempt)
		logger.WarnContext(ctx, "run attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		_ = q.store.UpdateRun(run)

		if !q.wait(ctx, delay) {
			err = fmt.Errorf("retry abandoned: %w", err)
			break
		}
	}

	q.finish(ctx, run, t.fn, output, err, time.Since(start), logger)
}

// invoke calls the handler, converting a panic into a *PanicError
func (q *Queue) invoke(ctx context.Context, fn *Function, event Event, run *Run, attempt int, logger *slog.Logger) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "function panicked", slog.Any("panic", r))
			output, err = nil, &PanicError{Value: r}
		}
	}()

	return fn.Handler(ctx, Input{
		Event:   event,
		RunID:   run.ID,
		Attempt: attempt,
		Logger:  logger,
	})
}

func (q *Queue) markStarted(run *Run, logger *slog.Logger) {
	run.Status = RunStatusRunning
	now := time.Now()
	run.StartedAt = &now
	if err := q.store.UpdateRun(run); err != nil {
		logger.Error("failed to update run status", slog.String("error", err.Error()))
	}
}

func (q *Queue) finish(ctx context.Context, run *Run, fn *Function, output any, err error, elapsed time.Duration, logger *slog.Logger) {
	completedAt := time.Now()
	run.CompletedAt = &completedAt

	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
		logger.ErrorContext(ctx, "run failed",
			slog.Int("attempts", run.Attempts),
			slog.String("error", err.Error()))
	} else {
		run.Status = RunStatusCompleted
		run.Output = output
		logger.InfoContext(ctx, "run completed",
			slog.Int("attempts", run.Attempts),
			slog.Duration("duration", elapsed))
	}

	if uerr := q.store.UpdateRun(run); uerr != nil {
		logger.Error("failed to update run completion", slog.String("error", uerr.Error()))
	}
	infrastructure.RecordJobRun(ctx, q.metrics, fn.ID, elapsed, err)
}

func (q *Queue) backoffFor(attempt int) time.Duration {
	delay := q.backoff << (attempt - 1)
	if delay <= 0 || delay > q.maxBackoff {
		return q.maxBackoff
	}
	return delay
}

// wait sleeps for d unless the queue stops or ctx ends first
func (q *Queue) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-q.shutdown:
		return false
	}
}
