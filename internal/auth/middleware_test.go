package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flux-gateway/internal"
	"flux-gateway/internal/jwt"
	"flux-gateway/internal/user"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUserStore struct {
	userName  string
	password  string
	superuser bool
}

func (f *fakeUserStore) Authenticate(ctx context.Context, userName, password string) (user.User, error) {
	if userName != f.userName || password != f.password {
		return user.User{}, internal.ErrUnknownUser
	}
	return user.User{
		UserName:    f.userName,
		IsActive:    pgtype.Bool{Bool: true, Valid: true},
		IsSuperuser: pgtype.Bool{Bool: f.superuser, Valid: true},
	}, nil
}

type fakeChecker struct {
	userName string
	password string
}

func (f *fakeChecker) CheckPassword(ctx context.Context, username, password string) error {
	if username != f.userName || password != f.password {
		return internal.ErrUnknownUser
	}
	return nil
}

func captureUser(t *testing.T) (http.HandlerFunc, *jwt.User) {
	t.Helper()
	caller := &jwt.User{}
	return func(w http.ResponseWriter, r *http.Request) {
		if got, err := jwt.GetUserFromContext(r.Context()); err == nil {
			*caller = got
		}
		w.WriteHeader(http.StatusOK)
	}, caller
}

func TestMiddleware(t *testing.T) {
	logger := zap.NewNop()
	verifier := jwt.NewService(logger, "test-secret", 15*time.Minute)

	t.Run("mode none passes through as the flux user", func(t *testing.T) {
		m := NewMiddleware(logger, ModeNone, "fluxuser", "", verifier, nil, nil)
		next, caller := captureUser(t)

		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "fluxuser", caller.Username)
		assert.True(t, caller.Superuser)
	})

	t.Run("basic mode checks the user store", func(t *testing.T) {
		store := &fakeUserStore{userName: "alice", password: "secret"}
		m := NewMiddleware(logger, ModeBasic, "", "", verifier, store, nil)
		next, caller := captureUser(t)

		r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		r.SetBasicAuth("alice", "secret")
		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", caller.Username)
	})

	t.Run("wrong credentials are refused", func(t *testing.T) {
		store := &fakeUserStore{userName: "alice", password: "secret"}
		m := NewMiddleware(logger, ModeBasic, "", "", verifier, store, nil)
		next, _ := captureUser(t)

		r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		r.SetBasicAuth("alice", "wrong")
		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing credentials are refused", func(t *testing.T) {
		m := NewMiddleware(logger, ModeBasic, "", "", verifier, &fakeUserStore{}, nil)
		next, _ := captureUser(t)

		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
	})

	t.Run("the server credential pair always works", func(t *testing.T) {
		m := NewMiddleware(logger, ModeLDAP, "fluxuser", "fluxtoken", verifier, nil, &fakeChecker{})
		next, caller := captureUser(t)

		r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		r.SetBasicAuth("fluxuser", "fluxtoken")
		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, caller.Superuser)
	})

	t.Run("ldap mode binds as the caller", func(t *testing.T) {
		checker := &fakeChecker{userName: "bob", password: "hunter2"}
		m := NewMiddleware(logger, ModeLDAP, "", "", verifier, nil, checker)
		next, caller := captureUser(t)

		r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		r.SetBasicAuth("bob", "hunter2")
		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "bob", caller.Username)
		assert.False(t, caller.Superuser)
	})

	t.Run("a bearer token is accepted", func(t *testing.T) {
		m := NewMiddleware(logger, ModeBasic, "", "", verifier, &fakeUserStore{}, nil)
		next, caller := captureUser(t)

		token, err := verifier.New(t.Context(), jwt.User{Username: "alice"})
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", caller.Username)
	})

	t.Run("a forged bearer token is refused", func(t *testing.T) {
		m := NewMiddleware(logger, ModeBasic, "", "", verifier, &fakeUserStore{}, nil)
		next, _ := captureUser(t)

		forger := jwt.NewService(logger, "other-secret", 15*time.Minute)
		token, err := forger.New(t.Context(), jwt.User{Username: "alice"})
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		m.HandlerFunc(next)(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTokenHandler(t *testing.T) {
	logger := zap.NewNop()
	issuer := jwt.NewService(logger, "test-secret", 15*time.Minute)
	store := &fakeUserStore{userName: "alice", password: "secret", superuser: true}
	middleware := NewMiddleware(logger, ModeBasic, "", "", issuer, store, nil)
	handler := NewHandler(logger, issuer, middleware)

	t.Run("exchanges credentials for a bearer token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/v1/token", nil)
		r.SetBasicAuth("alice", "secret")
		w := httptest.NewRecorder()
		handler.TokenHandler(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		var resp tokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "bearer", resp.TokenType)

		parsed, err := issuer.Parse(t.Context(), resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", parsed.Username)
		assert.True(t, parsed.Superuser)
	})

	t.Run("refuses wrong credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/v1/token", nil)
		r.SetBasicAuth("alice", "wrong")
		w := httptest.NewRecorder()
		handler.TokenHandler(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("refuses a request without credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.TokenHandler(w, httptest.NewRequest(http.MethodGet, "/v1/token", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
