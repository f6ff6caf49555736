package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindwell/internal/activity"
	"mindwell/internal/jobs"
)

func TestActivityHandler_Create(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/activity", token, map[string]interface{}{
		"type": "meditation", "name": "Body scan", "duration": 15, "difficulty": "easy",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := dataOf(t, rec)
	assert.Equal(t, "meditation", a["type"])
	assert.Equal(t, "Body scan", a["name"])
	assert.EqualValues(t, 15, a["duration"])
	assert.Equal(t, []string{jobs.EventActivityCompleted}, env.sender.names())

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown type", map[string]interface{}{"type": "skydiving", "name": "Jump"}},
		{"missing name", map[string]interface{}{"type": "walking"}},
		{"blank name", map[string]interface{}{"type": "walking", "name": "  "}},
		{"negative duration", map[string]interface{}{"type": "walking", "name": "Walk", "duration": -5}},
		{"bad difficulty", map[string]interface{}{"type": "walking", "name": "Walk", "difficulty": "extreme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/activity", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_FAILED", decode(t, rec)["error_code"])
		})
	}
}

func TestActivityHandler_ListAndToday(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")

	for _, kind := range []string{"walking", "reading", "walking"} {
		rec := env.do(t, http.MethodPost, "/api/activity", token, map[string]interface{}{"type": kind, "name": kind})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/activity", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listOf(t, rec), 3)

	rec = env.do(t, http.MethodGet, "/api/activity?type=walking", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listOf(t, rec), 2)

	rec = env.do(t, http.MethodGet, "/api/activity?type=skydiving", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/activity?limit=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listOf(t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/activity/today", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listOf(t, rec), 3)
}

func TestActivityHandler_Tally(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/activity", token, map[string]interface{}{"type": "exercise", "name": "Run", "duration": 30})
	require.Equal(t, http.StatusCreated, rec.Code)
	userID := dataOf(t, rec)["userId"].(string)
	day := time.Now().UTC().Format(activity.DayLayout)

	rec = env.do(t, http.MethodGet, "/api/activity/tally?day="+day, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/activity/tally?day=31-12-2024", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := env.activity.RefreshTally(context.Background(), userID, day)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/activity/tally", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tally := dataOf(t, rec)
	assert.Equal(t, day, tally["day"])
	assert.EqualValues(t, 1, tally["count"])
	assert.EqualValues(t, 30, tally["minutes"])
	assert.Equal(t, map[string]interface{}{"exercise": float64(1)}, tally["byType"])
}
