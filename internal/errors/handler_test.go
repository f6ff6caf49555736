package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindwell/internal/infrastructure"
	"mindwell/internal/shared/testutil"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantTitle  string
	}{
		{
			name:       "context deadline exceeded",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
			wantTitle:  "Request Timeout",
		},
		{
			name:       "api error",
			err:        ErrInvalidRequest,
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
			wantTitle:  "Bad Request",
		},
		{
			name:       "wrapped api error",
			err:        fmt.Errorf("register: %w", ErrEmailTaken),
			wantStatus: http.StatusConflict,
			wantType:   TypeConflict,
			wantTitle:  "Conflict",
		},
		{
			name:       "not found sentinel",
			err:        fmt.Errorf("session abc: %w", ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   TypeNotFound,
			wantTitle:  "Resource Not Found",
		},
		{
			name:       "unauthorized sentinel",
			err:        ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantType:   TypeUnauthorized,
			wantTitle:  "Unauthorized",
		},
		{
			name:       "invalid input sentinel",
			err:        fmt.Errorf("score out of range: %w", ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
			wantTitle:  "Bad Request",
		},
		{
			name:       "body too large",
			err:        &http.MaxBytesError{Limit: 10},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   TypePayloadTooLarge,
			wantTitle:  "Payload Too Large",
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
			wantTitle:  "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			req := httptest.NewRequest(http.MethodGet, "/api/mood", nil)
			req = req.WithContext(infrastructure.WithTraceID(req.Context(), "trace-1"))
			rec := httptest.NewRecorder()

			handler.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, tt.wantTitle, body["title"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.Equal(t, "/api/mood", body["instance"])
			assert.Equal(t, "trace-1", body["trace_id"])
			assert.NotContains(t, body, "stack")
			assert.True(t, logs.ContainsMessage("request failed"))
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	handler := NewErrorHandler(infrastructure.NewDiscardLogger(), false)
	rec := httptest.NewRecorder()
	handler.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Empty(t, rec.Body.String())
}

func TestErrorHandler_APIErrorDetails(t *testing.T) {
	handler := NewErrorHandler(infrastructure.NewDiscardLogger(), true)
	rec := httptest.NewRecorder()

	err := NewValidationErrors([]ValidationError{{Field: "email", Message: "is required"}})
	handler.HandleError(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil), err)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	assert.Contains(t, body, "stack")

	details, ok := body["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	assert.Equal(t, "email", details[0].(map[string]any)["field"])
}

func TestErrorHandler_HandleErrorAfterWrite(t *testing.T) {
	handler := NewErrorHandler(infrastructure.NewDiscardLogger(), false)
	rec := httptest.NewRecorder()
	ww := middleware.NewWrapResponseWriter(rec, 1)
	ww.WriteHeader(http.StatusAccepted)

	handler.HandleError(ww, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("late"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestErrorHandler_Middleware(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	mux := http.NewServeMux()
	mux.Handle("/error", Handle(func(w http.ResponseWriter, r *http.Request) error {
		return NotFoundError("Session")
	}))
	mux.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := handler.Middleware(mux)

	t.Run("returned error reaches the sink", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/error", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Session not found", decodeProblem(t, rec)["detail"])
	})

	t.Run("panic is recovered", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
	})

	t.Run("healthy requests pass through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestErrorHandler_AbortHandlerPropagates(t *testing.T) {
	handler := NewErrorHandler(infrastructure.NewDiscardLogger(), false)
	srv := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestHandleWithoutMiddleware(t *testing.T) {
	h := Handle(func(w http.ResponseWriter, r *http.Request) error {
		return ErrInvalidCredentials
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	handler := NewErrorHandler(infrastructure.NewDiscardLogger(), false)

	rec := httptest.NewRecorder()
	handler.NotFound(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, rec)["type"])

	rec = httptest.NewRecorder()
	handler.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.True(t, strings.Contains(decodeProblem(t, rec)["detail"].(string), "DELETE"))
}

func TestAPIErrorWrap(t *testing.T) {
	cause := errors.New("db down")
	err := ErrInternalServer.Wrap(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Internal server error: db down", err.Error())
	// The shared value is left untouched
	assert.Nil(t, ErrInternalServer.Unwrap())
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "", "/auth/register").
		WithExtension("error_code", "EMAIL_TAKEN").
		WithExtension("status", "ignored")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, float64(http.StatusConflict), body["status"])
	assert.Equal(t, "EMAIL_TAKEN", body["error_code"])
	assert.NotContains(t, body, "detail")
}

func TestAPIError_IsSentinel(t *testing.T) {
	assert.ErrorIs(t, NotFoundError("Session"), ErrNotFound)
	assert.ErrorIs(t, ErrEmailTaken, ErrConflict)
	assert.ErrorIs(t, ErrInvalidToken, ErrUnauthorized)
	assert.ErrorIs(t, InvalidParameter("limit", "must be positive"), ErrInvalidInput)
	assert.NotErrorIs(t, ErrInternalServer, ErrNotFound)
	assert.NotErrorIs(t, NotFoundError("Session"), ErrConflict)
}
