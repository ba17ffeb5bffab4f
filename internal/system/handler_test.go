package system

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flux-gateway/internal"
	"flux-gateway/internal/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeScheduler struct {
	stopped bool
	err     error
}

func (f *fakeScheduler) Stop(ctx context.Context) error {
	f.stopped = true
	return f.err
}

func newTestHandler(scheduler *fakeScheduler) *Handler {
	info := Info{
		Version:     "1.2.3",
		AuthMode:    "basic",
		ServerMode:  "multi-user",
		RequireAuth: true,
	}
	return NewHandler(zap.NewNop(), internal.NewProblemWriter(), info, scheduler)
}

func asCaller(r *http.Request, caller jwt.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), internal.UserContextKey, caller))
}

func TestServiceInfoHandler(t *testing.T) {
	handler := newTestHandler(&fakeScheduler{})

	w := httptest.NewRecorder()
	handler.ServiceInfoHandler(w, httptest.NewRequest(http.MethodGet, "/v1/service/info", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp ServiceInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Flux Gateway", resp.Name)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "basic", resp.AuthMode)
	assert.Equal(t, "multi-user", resp.ServerMode)
	assert.True(t, resp.RequireAuth)
}

func TestStopHandler(t *testing.T) {
	t.Run("a superuser can stop the instance", func(t *testing.T) {
		scheduler := &fakeScheduler{}
		handler := newTestHandler(scheduler)

		r := asCaller(httptest.NewRequest(http.MethodPost, "/v1/service/stop", nil), jwt.User{Username: "admin", Superuser: true})
		w := httptest.NewRecorder()
		handler.StopHandler(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, scheduler.stopped)
		assert.Contains(t, w.Body.String(), "Shutdown requested.")
	})

	t.Run("a regular user is refused", func(t *testing.T) {
		scheduler := &fakeScheduler{}
		handler := newTestHandler(scheduler)

		r := asCaller(httptest.NewRequest(http.MethodPost, "/v1/service/stop", nil), jwt.User{Username: "alice"})
		w := httptest.NewRecorder()
		handler.StopHandler(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.False(t, scheduler.stopped)
	})

	t.Run("an anonymous caller is refused", func(t *testing.T) {
		scheduler := &fakeScheduler{}
		handler := newTestHandler(scheduler)

		w := httptest.NewRecorder()
		handler.StopHandler(w, httptest.NewRequest(http.MethodPost, "/v1/service/stop", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.False(t, scheduler.stopped)
	})
}
