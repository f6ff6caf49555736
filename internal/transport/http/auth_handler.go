package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"mindwell/internal/auth"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/middleware"
)

// AuthHandler serves registration, login and the current user
type AuthHandler struct {
	service     *auth.Service
	validator   *middleware.Validator
	requireAuth Middleware
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service, validator *middleware.Validator, requireAuth Middleware, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:     service,
		validator:   validator,
		requireAuth: requireAuth,
		logger:      logger.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) MountPath() string { return "/auth" }

// Routes sets up the auth routes
func (h *AuthHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/register", apierrors.Handle(h.Register))
	r.Post("/login", apierrors.Handle(h.Login))

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", apierrors.Handle(h.Logout))
		r.Get("/me", apierrors.Handle(h.Me))
	})
	return r
}

type loginResponse struct {
	Message   string       `json:"message"`
	User      auth.Profile `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var in auth.RegisterInput
	if err := h.validator.Decode(r, &in); err != nil {
		return err
	}

	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		return err
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"message": "User registered successfully",
		"user":    user.Profile(),
	})
	return nil
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var in auth.LoginInput
	if err := h.validator.Decode(r, &in); err != nil {
		return err
	}

	result, err := h.service.Login(r.Context(), in, r.UserAgent())
	if err != nil {
		return err
	}

	render.JSON(w, r, loginResponse{
		Message:   "Login successful",
		User:      result.User,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return nil
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	if err := h.service.Logout(r.Context(), user.SessionID); err != nil {
		return err
	}
	render.JSON(w, r, map[string]string{"message": "Logged out successfully"})
	return nil
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	profile, err := h.service.GetUser(r.Context(), user.ID)
	if err != nil {
		return err
	}
	render.JSON(w, r, map[string]interface{}{"user": profile.Profile()})
	return nil
}
