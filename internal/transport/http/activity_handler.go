package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mindwell/internal/activity"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/middleware"
)

// ActivityHandler serves activity logging
type ActivityHandler struct {
	service     *activity.Service
	validator   *middleware.Validator
	requireAuth Middleware
	logger      *slog.Logger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(service *activity.Service, validator *middleware.Validator, requireAuth Middleware, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service:     service,
		validator:   validator,
		requireAuth: requireAuth,
		logger:      logger.With(slog.String("handler", "activity")),
	}
}

func (h *ActivityHandler) MountPath() string { return "/api/activity" }

// Routes sets up the activity routes
func (h *ActivityHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireAuth)

	r.Post("/", apierrors.Handle(h.Create))
	r.Get("/", apierrors.Handle(h.List))
	r.Get("/today", apierrors.Handle(h.Today))
	r.Get("/tally", apierrors.Handle(h.Tally))
	return r
}

// Create handles POST /api/activity
func (h *ActivityHandler) Create(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var in activity.CreateInput
	if err := h.validator.Decode(r, &in); err != nil {
		return err
	}

	a, err := h.service.Create(r.Context(), user.ID, in)
	if err != nil {
		return err
	}
	created(w, r, "Activity logged successfully", a)
	return nil
}

// List handles GET /api/activity
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	kind, err := middleware.QueryEnum(r, "type", activity.Types, "")
	if err != nil {
		return err
	}
	limit, err := middleware.QueryInt(r, "limit", 1, 500, 50)
	if err != nil {
		return err
	}

	activities, err := h.service.List(r.Context(), user.ID, activity.ListOptions{Type: kind, Limit: limit})
	if err != nil {
		return err
	}
	list(w, r, activities)
	return nil
}

// Today handles GET /api/activity/today
func (h *ActivityHandler) Today(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	activities, err := h.service.Today(r.Context(), user.ID)
	if err != nil {
		return err
	}
	list(w, r, activities)
	return nil
}

// Tally handles GET /api/activity/tally?day=YYYY-MM-DD. The day defaults to
// today in UTC.
func (h *ActivityHandler) Tally(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().UTC().Format(activity.DayLayout)
	} else if _, err := time.Parse(activity.DayLayout, day); err != nil {
		return apierrors.InvalidParameter("day", "day must be a YYYY-MM-DD date")
	}

	tally, err := h.service.GetTally(r.Context(), user.ID, day)
	if err != nil {
		return err
	}
	respond(w, r, tally)
	return nil
}
