package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "mindwell/internal/errors"
	"mindwell/internal/infrastructure"
)

func echoFunction(id, event string) *Function {
	return CreateFunction(FunctionOptions{ID: id, Name: "Echo " + id}, Trigger{Event: event},
		func(ctx context.Context, in Input) (any, error) {
			return map[string]any{"event": in.Event.Name, "data": in.Event.Data}, nil
		})
}

func newTestServer(t *testing.T, key string, functions ...*Function) (*Server, *Client, http.Handler) {
	t.Helper()
	logger := infrastructure.NewDiscardLogger()
	client := NewClient("mindwell", WithClientLogger(logger))
	srv, err := NewServer(client, functions, ServerOptions{
		SigningKey: key,
		Workers:    2,
		QueueSize:  8,
		MaxRetries: 1,
		Backoff:    time.Millisecond,
		Logger:     logger,
	})
	require.NoError(t, err)
	return srv, client, apierrors.NewErrorHandler(logger, false).Middleware(srv)
}

func TestNewServer_Validation(t *testing.T) {
	noop := func(ctx context.Context, in Input) (any, error) { return nil, nil }

	tests := []struct {
		name      string
		functions []*Function
		wantErr   string
	}{
		{
			name: "duplicate id",
			functions: []*Function{
				CreateFunction(FunctionOptions{ID: "a"}, Trigger{Event: "x"}, noop),
				CreateFunction(FunctionOptions{ID: "a"}, Trigger{Event: "y"}, noop),
			},
			wantErr: "duplicate function id: a",
		},
		{
			name:      "missing id",
			functions: []*Function{CreateFunction(FunctionOptions{}, Trigger{Event: "x"}, noop)},
			wantErr:   "function id is required",
		},
		{
			name:      "two triggers",
			functions: []*Function{CreateFunction(FunctionOptions{ID: "b"}, Trigger{Event: "x", Cron: "@daily"}, noop)},
			wantErr:   "exactly one of event or cron",
		},
		{
			name:      "bad cron",
			functions: []*Function{CreateFunction(FunctionOptions{ID: "c"}, Trigger{Cron: "61 * * * *"}, noop)},
			wantErr:   "invalid cron",
		},
		{
			name:      "no handler",
			functions: []*Function{CreateFunction(FunctionOptions{ID: "d"}, Trigger{Event: "x"}, nil)},
			wantErr:   "handler is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(NewClient("mindwell"), tt.functions, ServerOptions{Logger: infrastructure.NewDiscardLogger()})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := NewServer(nil, nil, ServerOptions{})
	assert.Error(t, err)
}

func TestServer_Introspection(t *testing.T) {
	_, _, h := newTestServer(t, "", echoFunction("echo", EventMoodUpdated))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/inngest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body introspection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "mindwell", body.AppID)
	assert.Equal(t, 1, body.FunctionCount)
	assert.False(t, body.HasSigningKey)
	require.Len(t, body.Functions, 1)
	assert.Equal(t, "echo", body.Functions[0].ID)
	assert.Equal(t, 1, body.Functions[0].Retries)
	assert.Equal(t, EventMoodUpdated, body.Functions[0].Triggers[0].Event)
	assert.False(t, body.CronEnabled)
	assert.Empty(t, body.NextRuns)
	assert.Equal(t, 2, body.Queue.Workers)
	assert.Equal(t, 8, body.Queue.Capacity)
}

func TestServer_IntrospectionSchedules(t *testing.T) {
	logger := infrastructure.NewDiscardLogger()
	srv, err := NewServer(NewClient("mindwell"), []*Function{
		CreateFunction(FunctionOptions{ID: "hourly"}, Trigger{Cron: "@hourly"},
			func(ctx context.Context, in Input) (any, error) { return nil, nil }),
	}, ServerOptions{Workers: 1, CronEnabled: true, Logger: logger})
	require.NoError(t, err)
	srv.Start(context.Background())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	var body introspection
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/inngest", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		body = introspection{}
		return json.Unmarshal(rec.Body.Bytes(), &body) == nil && !body.NextRuns["hourly"].IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, body.CronEnabled)
	assert.True(t, body.NextRuns["hourly"].After(time.Now()))
}

func TestServer_StopWithExpiredContext(t *testing.T) {
	srv, _, _ := newTestServer(t, "", echoFunction("echo", EventMoodUpdated))
	srv.Start(context.Background())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}

func TestServer_Sync(t *testing.T) {
	key := "signkey-test-abc"
	srv, _, h := newTestServer(t, key, echoFunction("echo", EventMoodUpdated))
	now := time.Unix(1_700_000_000, 0)
	srv.now = func() time.Time { return now }

	t.Run("unsigned", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/inngest", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
	})

	t.Run("signed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/inngest", strings.NewReader("{}"))
		req.Header.Set(SignatureHeader, Sign(key, []byte("{}"), now))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body syncResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.OK)
		assert.Equal(t, 1, body.FunctionCount)
	})
}

func TestServer_Invoke(t *testing.T) {
	failing := CreateFunction(FunctionOptions{ID: "failing"}, Trigger{Event: "test/fail"},
		func(ctx context.Context, in Input) (any, error) { return nil, errors.New("no luck") })
	_, _, h := newTestServer(t, "", echoFunction("echo", EventMoodUpdated), failing)

	post := func(target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
		return rec
	}

	t.Run("runs the function", func(t *testing.T) {
		rec := post("/api/inngest?fnId=echo", `{"event":{"name":"mood/updated","data":{"score":80}}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body struct {
			Status RunStatus      `json:"status"`
			RunID  string         `json:"run_id"`
			Output map[string]any `json:"output"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, RunStatusCompleted, body.Status)
		assert.NotEmpty(t, body.RunID)
		assert.Equal(t, "mood/updated", body.Output["event"])
		assert.Equal(t, map[string]any{"score": 80.0}, body.Output["data"])
	})

	t.Run("defaults the event name", func(t *testing.T) {
		rec := post("/api/inngest?fnId=echo", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"event":"mood/updated"`)
	})

	t.Run("missing fnId", func(t *testing.T) {
		rec := post("/api/inngest", "{}")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown function", func(t *testing.T) {
		rec := post("/api/inngest?fnId=nope", "{}")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad json", func(t *testing.T) {
		rec := post("/api/inngest?fnId=echo", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("handler error", func(t *testing.T) {
		rec := post("/api/inngest?fnId=failing", "{}")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "FUNCTION_FAILED")
	})
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, _, h := newTestServer(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/inngest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_DispatchFansOut(t *testing.T) {
	first := make(chan string, 1)
	second := make(chan string, 1)
	srv, client, _ := newTestServer(t, "",
		CreateFunction(FunctionOptions{ID: "one"}, Trigger{Event: EventActivityCompleted},
			func(ctx context.Context, in Input) (any, error) { first <- in.Event.ID; return nil, nil }),
		CreateFunction(FunctionOptions{ID: "two"}, Trigger{Event: EventActivityCompleted},
			func(ctx context.Context, in Input) (any, error) { second <- in.Event.ID; return nil, nil }),
	)
	srv.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	ids, err := client.Send(context.Background(), Event{Name: EventActivityCompleted})
	require.NoError(t, err)

	for _, ch := range []chan string{first, second} {
		select {
		case id := <-ch:
			assert.Equal(t, ids[0], id)
		case <-time.After(2 * time.Second):
			t.Fatal("function was not triggered")
		}
	}

	// unrelated events trigger nothing
	_, err = client.Send(context.Background(), Event{Name: "other/event"})
	require.NoError(t, err)

	fn, ok := srv.Function("one")
	require.True(t, ok)
	assert.Equal(t, "one", fn.ID)
}
