package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"mindwell/internal/activity"
	"mindwell/internal/auth"
	"mindwell/internal/chat"
	"mindwell/internal/config"
	"mindwell/internal/database"
	"mindwell/internal/infrastructure"
	"mindwell/internal/jobs"
	"mindwell/internal/jobs/functions"
	"mindwell/internal/middleware"
	"mindwell/internal/mood"
	"mindwell/internal/security"
	handlers "mindwell/internal/transport/http"
	"mindwell/internal/websocket"
)

// State is the readiness of the application
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateStopped      State = "stopped"
)

// BindError reports that the listener could not be bound
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ErrNotReady is reported by the readiness check before Start completes or
// after Stop
var ErrNotReady = errors.New("application is not ready")

// Dependencies is the process-wide state the application is built from.
// Telemetry is optional.
type Dependencies struct {
	Config    *config.Config
	Logger    *slog.Logger
	Database  database.Database
	Telemetry *infrastructure.OTelProviders
}

// Application owns the server lifecycle
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        database.Database
	telemetry *infrastructure.OTelProviders

	hub    *websocket.Hub
	events *jobs.Client
	jobs   *jobs.Server
	router http.Handler
	server *http.Server

	mu       sync.RWMutex
	state    State
	listener net.Listener
	serveErr chan error
}

// New builds every service and the router. It performs no I/O.
func New(deps Dependencies) (*Application, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Database == nil {
		return nil, errors.New("database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	metrics := infrastructure.NoopBusinessMetrics()
	if deps.Telemetry != nil && deps.Telemetry.Metrics != nil {
		metrics = deps.Telemetry.Metrics
	}

	a := &Application{
		cfg:       cfg,
		logger:    logger,
		db:        deps.Database,
		telemetry: deps.Telemetry,
		state:     StateInitializing,
		serveErr:  make(chan error, 1),
	}

	tokens, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	a.hub = websocket.NewHub(logger, metrics)
	a.events = jobs.NewClient(cfg.Jobs.AppID,
		jobs.WithClientLogger(logger),
		jobs.WithClientMetrics(metrics))

	authService := auth.NewService(a.db, tokens, logger, metrics)
	var chatOpts []chat.Option
	if cfg.Security.EncryptionKey != "" {
		cipher, err := security.NewContentCipher(cfg.Security.EncryptionKey, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize chat encryption: %w", err)
		}
		chatOpts = append(chatOpts, chat.WithCipher(cipher))
	}
	chatService := chat.NewService(a.db, a.hub, a.events, logger, metrics, chatOpts...)
	moodService := mood.NewService(a.db, a.events, logger, metrics)
	activityService := activity.NewService(a.db, a.events, logger, metrics)

	a.jobs, err = jobs.NewServer(a.events, functions.All(functions.Deps{
		Chat:     chatService,
		Mood:     moodService,
		Activity: activityService,
		Sessions: authService,
	}), jobs.ServerOptions{
		SigningKey:  cfg.Jobs.SigningKey,
		Workers:     cfg.Jobs.Workers,
		QueueSize:   cfg.Jobs.QueueSize,
		MaxRetries:  cfg.Jobs.MaxRetries,
		CronEnabled: cfg.Jobs.CronEnabled,
		Store:       jobs.NewMemoryRunStore(),
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job server: %w", err)
	}

	validator := middleware.NewValidator()
	requireAuth := middleware.AuthMiddleware(logger, authService)

	a.router = NewRouter(RouterOptions{
		Config:    cfg,
		Logger:    logger,
		Telemetry: deps.Telemetry,
		Health:    handlers.NewHealthHandler(a.ready, logger),
		Jobs:      a.jobs,
		Mounts: []handlers.Mountable{
			handlers.NewAuthHandler(authService, validator, requireAuth, logger),
			handlers.NewChatHandler(chatService, a.hub, validator, requireAuth, logger),
			handlers.NewMoodHandler(moodService, validator, requireAuth, logger),
			handlers.NewActivityHandler(activityService, validator, requireAuth, logger),
		},
	})

	a.server = &http.Server{
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return a, nil
}

// Handler returns the application router
func (a *Application) Handler() http.Handler {
	return a.router
}

// State returns the current readiness state
func (a *Application) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Addr returns the bound listener address, or nil before Start
func (a *Application) Addr() net.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Start connects the database, then binds the listener and begins serving.
// The listener is never bound if the connect fails.
func (a *Application) Start(ctx context.Context) error {
	if err := a.db.Connect(ctx); err != nil {
		var connErr *database.ConnectionError
		if !errors.As(err, &connErr) {
			err = &database.ConnectionError{Driver: a.cfg.Database.Driver, Err: err}
		}
		return err
	}

	addr := a.cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	a.hub.Start()
	a.jobs.Start(context.WithoutCancel(ctx))

	a.mu.Lock()
	a.listener = ln
	a.state = StateReady
	a.mu.Unlock()

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
	}()

	port := a.cfg.Server.Port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	a.logger.InfoContext(ctx, fmt.Sprintf("Server is running on port %d", port))
	a.logger.InfoContext(ctx, fmt.Sprintf("Inngest endpoint available at http://localhost:%d%s", port, JobsPath))
	return nil
}

// Stop shuts the application down. HTTP requests drain within
// ShutdownTimeout; the remaining components stop in parallel.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return nil
	}
	started := a.state == StateReady
	a.state = StateStopped
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx := ctx
	if a.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if started {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	g, gctx := errgroup.WithContext(shutdownCtx)
	if started {
		g.Go(func() error {
			a.hub.Stop()
			return nil
		})
		g.Go(func() error {
			if err := a.jobs.Stop(gctx); err != nil {
				return fmt.Errorf("job server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if a.telemetry != nil {
		g.Go(func() error {
			if err := a.telemetry.Shutdown(gctx); err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.ErrorContext(ctx, "Shutdown completed with errors", slog.String("error", err.Error()))
		return err
	}
	a.logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run starts the application and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the server fails. It then stops the application.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.logger.ErrorContext(ctx, "Failed to start server", slog.String("error", err.Error()))
		if stopErr := a.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			a.logger.ErrorContext(ctx, "cleanup after failed start", slog.String("error", stopErr.Error()))
		}
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-sigCtx.Done():
		a.logger.InfoContext(ctx, "Received shutdown signal")
	case serveErr = <-a.serveErr:
		a.logger.ErrorContext(ctx, "HTTP server failed", slog.String("error", serveErr.Error()))
	}

	stopErr := a.Stop(context.WithoutCancel(ctx))
	return errors.Join(serveErr, stopErr)
}

// ready backs GET /health/ready
func (a *Application) ready(ctx context.Context) error {
	if a.State() != StateReady {
		return ErrNotReady
	}
	return a.db.Ping(ctx)
}

// Main builds and runs the application, returning the process exit status
func Main(ctx context.Context, deps Dependencies) int {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	application, err := New(deps)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start server", slog.String("error", err.Error()))
		return 1
	}
	if err := application.Run(ctx); err != nil {
		return 1
	}
	return 0
}
