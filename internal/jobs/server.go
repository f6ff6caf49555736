package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
)

// minStopGrace is the least time Stop gives idle workers to exit, even when
// ctx is already past its deadline
const minStopGrace = time.Second

var errInvalidSignature = apierrors.New(http.StatusUnauthorized, "INVALID_SIGNATURE", "Request signature verification failed")

// ServerOptions configures NewServer
type ServerOptions struct {
	SigningKey  string
	Workers     int
	QueueSize   int
	MaxRetries  int
	Backoff     time.Duration
	CronEnabled bool
	Store       RunStore
	Metrics     *infrastructure.BusinessMetrics
	Logger      *slog.Logger
}

// Server owns the registered functions and serves the job endpoint
type Server struct {
	client     *Client
	functions  []*Function
	byID       map[string]*Function
	byEvent    map[string][]*Function
	signingKey string
	maxRetries int
	queue      *Queue
	scheduler  *Scheduler
	cron       bool
	logger     *slog.Logger
	now        func() time.Time
}

var _ Dispatcher = (*Server)(nil)

// NewServer validates functions and attaches the server to client. Function
// ids must be unique and cron schedules must parse.
func NewServer(client *Client, functions []*Function, opts ServerOptions) (*Server, error) {
	if client == nil {
		return nil, errors.New("jobs client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With(slog.String("component", "jobs_server"))

	s := &Server{
		client:     client,
		byID:       make(map[string]*Function, len(functions)),
		byEvent:    make(map[string][]*Function),
		signingKey: opts.SigningKey,
		maxRetries: opts.MaxRetries,
		cron:       opts.CronEnabled,
		logger:     logger,
		now:        time.Now,
	}
	s.queue = NewQueue(QueueOptions{
		Workers:        opts.Workers,
		Size:           opts.QueueSize,
		DefaultRetries: opts.MaxRetries,
		Backoff:        opts.Backoff,
		Store:          opts.Store,
		Metrics:        opts.Metrics,
		Logger:         opts.Logger,
	})
	s.scheduler = NewScheduler(s.queue, opts.Logger)

	for _, fn := range functions {
		if fn == nil {
			return nil, errors.New("nil function")
		}
		if err := fn.validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byID[fn.ID]; dup {
			return nil, fmt.Errorf("duplicate function id: %s", fn.ID)
		}
		if fn.Trigger.Cron != "" {
			if err := s.scheduler.Add(fn); err != nil {
				return nil, err
			}
		} else {
			s.byEvent[fn.Trigger.Event] = append(s.byEvent[fn.Trigger.Event], fn)
		}
		s.byID[fn.ID] = fn
		s.functions = append(s.functions, fn)
	}

	client.attach(s)
	return s, nil
}

// Start launches the workers and, when enabled, the cron scheduler
func (s *Server) Start(ctx context.Context) {
	s.queue.Start(ctx)
	if s.cron {
		s.scheduler.Start()
	}
	s.logger.InfoContext(ctx, "job server started",
		slog.String("app_id", s.client.AppID()),
		slog.Int("functions", len(s.functions)))
}

// Stop halts the scheduler and drains the workers within ctx
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.cron {
		if err := s.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), minStopGrace)
	}
	if err := s.queue.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	return errors.Join(errs...)
}

// Queue exposes the run queue
func (s *Server) Queue() *Queue {
	return s.queue
}

// Function returns the registered function with id
func (s *Server) Function(id string) (*Function, bool) {
	fn, ok := s.byID[id]
	return fn, ok
}

// Dispatch enqueues a run for every function triggered by each event
func (s *Server) Dispatch(ctx context.Context, events []Event) error {
	var errs []error
	for _, event := range events {
		for _, fn := range s.byEvent[event.Name] {
			if _, err := s.queue.Enqueue(ctx, fn, event); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", fn.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Functions returns the introspection view of every function
func (s *Server) Functions() []FunctionConfig {
	out := make([]FunctionConfig, 0, len(s.functions))
	for _, fn := range s.functions {
		out = append(out, fn.config(s.maxRetries))
	}
	return out
}

type introspection struct {
	AppID         string               `json:"app_id"`
	FunctionCount int                  `json:"function_count"`
	Functions     []FunctionConfig     `json:"functions"`
	HasSigningKey bool                 `json:"has_signing_key"`
	CronEnabled   bool                 `json:"cron_enabled"`
	NextRuns      map[string]time.Time `json:"next_runs,omitempty"`
	Queue         QueueStats           `json:"queue"`
}

// nextRuns maps each scheduled function to its next activation. It is empty
// until the scheduler has started.
func (s *Server) nextRuns() map[string]time.Time {
	if !s.cron {
		return nil
	}
	out := make(map[string]time.Time)
	for _, fn := range s.functions {
		if next := s.scheduler.Next(fn.ID); !next.IsZero() {
			out[fn.ID] = next
		}
	}
	return out
}

type syncResponse struct {
	OK            bool `json:"ok"`
	Modified      bool `json:"modified"`
	FunctionCount int  `json:"function_count"`
}

type invokeRequest struct {
	Event Event `json:"event"`
}

type invokeResponse struct {
	Status RunStatus `json:"status"`
	RunID  string    `json:"run_id"`
	Output any       `json:"output"`
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apierrors.Handle(s.serve).ServeHTTP(w, r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodGet:
		render.JSON(w, r, introspection{
			AppID:         s.client.AppID(),
			FunctionCount: len(s.functions),
			Functions:     s.Functions(),
			HasSigningKey: s.signingKey != "",
			CronEnabled:   s.cron,
			NextRuns:      s.nextRuns(),
			Queue:         s.queue.Stats(),
		})
		return nil
	case http.MethodPut:
		if _, err := s.verifiedBody(r); err != nil {
			return err
		}
		render.JSON(w, r, syncResponse{OK: true, Modified: false, FunctionCount: len(s.functions)})
		return nil
	case http.MethodPost:
		return s.invoke(w, r)
	default:
		apierrors.FromContext(r.Context()).MethodNotAllowed(w, r)
		return nil
	}
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) error {
	body, err := s.verifiedBody(r)
	if err != nil {
		return err
	}

	fnID := r.URL.Query().Get("fnId")
	if fnID == "" {
		return apierrors.InvalidParameter("fnId", "query parameter is required")
	}
	fn, ok := s.byID[fnID]
	if !ok {
		return apierrors.NotFoundError("Function " + fnID)
	}

	var req invokeRequest
	if len(body) > 0 {
		if err := render.DecodeJSON(bytes.NewReader(body), &req); err != nil {
			return apierrors.InvalidRequestWithError(err)
		}
	}
	if req.Event.Name == "" {
		req.Event.Name = fn.Trigger.Event
		if req.Event.Name == "" {
			req.Event.Name = EventScheduledTimer
		}
	}
	req.Event.normalize(s.now())

	run, err := s.queue.Execute(r.Context(), fn, req.Event)
	if err != nil {
		if run == nil {
			return err
		}
		return apierrors.New(http.StatusInternalServerError, "FUNCTION_FAILED",
			fmt.Sprintf("Function %s failed: %v", fn.ID, err)).Wrap(err)
	}

	render.JSON(w, r, invokeResponse{Status: run.Status, RunID: run.ID, Output: run.Output})
	return nil
}

// verifiedBody reads the request body and checks its signature when a
// signing key is configured
func (s *Server) verifiedBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if s.signingKey == "" {
		return body, nil
	}
	if err := VerifySignature(s.signingKey, r.Header.Get(SignatureHeader), body, s.now()); err != nil {
		s.logger.WarnContext(r.Context(), "rejected unsigned job request",
			slog.String("method", r.Method),
			slog.String("error", err.Error()))
		return nil, errInvalidSignature.Wrap(err)
	}
	return body, nil
}
