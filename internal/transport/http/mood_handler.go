package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "mindwell/internal/errors"
	"mindwell/internal/exporter"
	"mindwell/internal/middleware"
	"mindwell/internal/mood"
)

// MoodHandler serves mood tracking
type MoodHandler struct {
	service     *mood.Service
	validator   *middleware.Validator
	requireAuth Middleware
	logger      *slog.Logger
}

// NewMoodHandler creates a new mood handler
func NewMoodHandler(service *mood.Service, validator *middleware.Validator, requireAuth Middleware, logger *slog.Logger) *MoodHandler {
	return &MoodHandler{
		service:     service,
		validator:   validator,
		requireAuth: requireAuth,
		logger:      logger.With(slog.String("handler", "mood")),
	}
}

func (h *MoodHandler) MountPath() string { return "/api/mood" }

// Routes sets up the mood routes
func (h *MoodHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireAuth)

	r.Post("/", apierrors.Handle(h.Create))
	r.Get("/", apierrors.Handle(h.List))
	r.Get("/summary", apierrors.Handle(h.Summary))
	r.Get("/export", apierrors.Handle(h.Export))
	return r
}

// Create handles POST /api/mood
func (h *MoodHandler) Create(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var in mood.CreateInput
	if err := h.validator.Decode(r, &in); err != nil {
		return err
	}

	entry, err := h.service.Create(r.Context(), user.ID, in)
	if err != nil {
		return err
	}
	created(w, r, "Mood tracked successfully", entry)
	return nil
}

// List handles GET /api/mood
func (h *MoodHandler) List(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	opts, err := h.listOptions(r, 100)
	if err != nil {
		return err
	}

	entries, err := h.service.List(r.Context(), user.ID, opts)
	if err != nil {
		return err
	}
	list(w, r, entries)
	return nil
}

// Summary handles GET /api/mood/summary
func (h *MoodHandler) Summary(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	summary, err := h.service.Summary(r.Context(), user.ID)
	if err != nil {
		return err
	}
	respond(w, r, summary)
	return nil
}

// Export handles GET /api/mood/export?format=csv|xlsx
func (h *MoodHandler) Export(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	name, err := middleware.QueryEnum(r, "format", exporter.Formats, string(exporter.FormatCSV))
	if err != nil {
		return err
	}
	format, err := exporter.ParseFormat(name)
	if err != nil {
		return err
	}
	opts, err := h.listOptions(r, 0)
	if err != nil {
		return err
	}

	table, err := h.service.Export(r.Context(), user.ID, opts)
	if err != nil {
		return err
	}

	filename := format.Filename("mood-" + time.Now().UTC().Format(time.DateOnly))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := exporter.Write(w, format, table); err != nil {
		// Headers are gone once the body starts; just log
		h.logger.ErrorContext(r.Context(), "mood export failed",
			slog.String("user_id", user.ID),
			slog.String("format", string(format)),
			slog.String("error", err.Error()))
	}
	return nil
}

func (h *MoodHandler) listOptions(r *http.Request, defaultLimit int) (mood.ListOptions, error) {
	from, err := middleware.QueryTime(r, "from")
	if err != nil {
		return mood.ListOptions{}, err
	}
	to, err := middleware.QueryTime(r, "to")
	if err != nil {
		return mood.ListOptions{}, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return mood.ListOptions{}, apierrors.InvalidParameter("to", "to must not be before from")
	}
	limit, err := middleware.QueryInt(r, "limit", 0, 1000, defaultLimit)
	if err != nil {
		return mood.ListOptions{}, err
	}
	return mood.ListOptions{From: from, To: to, Limit: limit}, nil
}
