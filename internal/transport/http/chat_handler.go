package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mindwell/internal/chat"
	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
	"mindwell/internal/middleware"
	"mindwell/internal/websocket"
)

// ChatHandler serves therapy chat sessions and their live stream
type ChatHandler struct {
	service     *chat.Service
	hub         *websocket.Hub
	validator   *middleware.Validator
	requireAuth Middleware
	logger      *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(service *chat.Service, hub *websocket.Hub, validator *middleware.Validator, requireAuth Middleware, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		service:     service,
		hub:         hub,
		validator:   validator,
		requireAuth: requireAuth,
		logger:      logger.With(slog.String("handler", "chat")),
	}
}

func (h *ChatHandler) MountPath() string { return "/chat" }

// Routes sets up the chat routes. Every route requires a bearer token.
func (h *ChatHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireAuth)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", apierrors.Handle(h.CreateSession))
		r.Get("/", apierrors.Handle(h.ListSessions))

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", apierrors.Handle(h.GetSession))
			r.Post("/messages", apierrors.Handle(h.SendMessage))
			r.Get("/history", apierrors.Handle(h.History))
			r.Get("/stream", apierrors.Handle(h.Stream))
		})
	})
	return r
}

// CreateSession handles POST /chat/sessions. The body is optional.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var in chat.CreateSessionInput
	if r.ContentLength != 0 {
		if err := h.validator.Decode(r, &in); err != nil {
			return err
		}
	}

	session, err := h.service.CreateSession(r.Context(), user.ID, in)
	if err != nil {
		return err
	}
	created(w, r, "Chat session created", session)
	return nil
}

// ListSessions handles GET /chat/sessions
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	limit, err := middleware.QueryInt(r, "limit", 1, 100, 20)
	if err != nil {
		return err
	}

	sessions, err := h.service.ListSessions(r.Context(), user.ID, limit)
	if err != nil {
		return err
	}
	list(w, r, sessions)
	return nil
}

// GetSession handles GET /chat/sessions/{sessionID}
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	session, err := h.service.GetSession(r.Context(), user.ID, chi.URLParam(r, "sessionID"))
	if err != nil {
		return err
	}
	respond(w, r, session)
	return nil
}

// SendMessage handles POST /chat/sessions/{sessionID}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var in chat.SendMessageInput
	if err := h.validator.Decode(r, &in); err != nil {
		return err
	}

	msg, err := h.service.SendMessage(r.Context(), user.ID, chi.URLParam(r, "sessionID"), in)
	if err != nil {
		return err
	}
	created(w, r, "Message sent", msg)
	return nil
}

// History handles GET /chat/sessions/{sessionID}/history
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	limit, err := middleware.QueryInt(r, "limit", 1, 500, 50)
	if err != nil {
		return err
	}

	messages, err := h.service.History(r.Context(), user.ID, chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		return err
	}
	list(w, r, messages)
	return nil
}

// Stream handles GET /chat/sessions/{sessionID}/stream. Ownership is checked
// before the upgrade so a foreign session still gets a 404 problem.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.service.GetSession(r.Context(), user.ID, sessionID); err != nil {
		return err
	}

	conn, err := websocket.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return nil
	}

	traceID := infrastructure.GetTraceID(r.Context())
	if !websocket.ServeClient(h.hub, websocket.NewConnectionWrapper(conn), sessionID, traceID, h.logger) {
		h.logger.WarnContext(r.Context(), "hub stopped, closing stream", slog.String("session_id", sessionID))
		return nil
	}

	h.logger.InfoContext(r.Context(), "chat stream opened",
		slog.String("session_id", sessionID),
		slog.String("user_id", user.ID))
	return nil
}
