package http

import (
	"net/http"

	"github.com/go-chi/render"

	apierrors "mindwell/internal/errors"
	"mindwell/internal/middleware"
)

// Mountable is a route group mounted under a fixed path prefix
type Mountable interface {
	MountPath() string
	Routes() http.Handler
}

// Middleware wraps a handler
type Middleware = func(http.Handler) http.Handler

// envelope is the body of every successful JSON response
type envelope struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

func created(w http.ResponseWriter, r *http.Request, message string, data interface{}) {
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, envelope{Message: message, Data: data})
}

func respond(w http.ResponseWriter, r *http.Request, data interface{}) {
	render.JSON(w, r, envelope{Data: data})
}

// list renders items, which must be a slice, as a JSON array even when empty
func list[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	render.JSON(w, r, envelope{Data: items})
}

// currentUser returns the caller set by the auth middleware
func currentUser(r *http.Request) (*middleware.UserInfo, error) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return nil, apierrors.ErrMissingToken
	}
	return user, nil
}
