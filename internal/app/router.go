package app

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"mindwell/internal/config"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
	"mindwell/internal/middleware"
	handlers "mindwell/internal/transport/http"
)

// JobsPath is where the background-job endpoint is mounted
const JobsPath = "/api/inngest"

// RouterOptions lists everything the router mounts
type RouterOptions struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.OTelProviders
	Health    *handlers.HealthHandler
	Jobs      http.Handler
	Mounts    []handlers.Mountable
}

// NewRouter builds the middleware chain and route table. It has no side
// effects: building it twice yields identical routes.
func NewRouter(opts RouterOptions) *chi.Mux {
	cfg := opts.Config
	logger := opts.Logger
	errorHandler := apierrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()

	// Order: RequestID → RealIP → OTel → Logger → error sink → headers →
	// CORS → rate limit → body limit → timeout
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.NewOTelMiddleware(opts.Telemetry).Handler)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(errorHandler.Middleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(corsConfig(cfg.Security, logger)))
	if cfg.Security.RateLimit.Enabled {
		r.Use(middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, logger).Handler)
	}
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	if cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	}

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	health := opts.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil, logger)
	}
	r.Get("/", health.Root)
	r.Get("/health", health.Health)
	r.Get("/health/ready", health.Ready)

	if opts.Jobs != nil {
		r.Handle(JobsPath, opts.Jobs)
	}
	if cfg.Telemetry.MetricsEnabled && opts.Telemetry != nil && opts.Telemetry.PrometheusHTTP != nil {
		r.Handle("/metrics", opts.Telemetry.PrometheusHTTP)
	}

	for _, m := range opts.Mounts {
		r.Mount(m.MountPath(), m.Routes())
	}
	return r
}

// RouteTable lists "METHOD pattern" for every route of r, sorted
func RouteTable(r chi.Routes) ([]string, error) {
	var routes []string
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(routes)
	return routes, nil
}

func corsConfig(cfg config.SecurityConfig, logger *slog.Logger) middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Inngest-Signature",
			middleware.RequestIDHeader,
		},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		Logger:         logger,
	}
}
