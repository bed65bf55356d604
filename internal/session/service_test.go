package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *TableRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, NewTracker(900))
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

func addSession(t *testing.T, repo *TableRepository, userID int64, token string, created time.Time, expires time.Time, last *time.Time) {
	t.Helper()
	_, err := repo.Add(context.Background(), Session{
		UserID:         userID,
		AccessToken:    token,
		RefreshToken:   "r-" + token,
		ExpiresAt:      expires,
		LastActivityAt: last,
		CreatedAt:      created,
	})
	require.NoError(t, err)
}

func TestPresenceUsesNewestSession(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addSession(t, repo, 1, "old", fixedNow.Add(-2*time.Hour), fixedNow.Add(time.Hour), ptr(fixedNow.Add(-10*time.Second)))
	addSession(t, repo, 1, "new", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), ptr(fixedNow.Add(-901*time.Second)))
	addSession(t, repo, 2, "two", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), ptr(fixedNow.Add(-100*time.Second)))

	p, err := svc.Presence(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Offline, p.Status)

	p, err = svc.Presence(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Offline, p.Status)
	assert.Nil(t, p.LastActivityAt)

	many, err := svc.PresenceMany(ctx, []int64{2, 1, 3})
	require.NoError(t, err)
	require.Len(t, many, 3)
	assert.Equal(t, int64(2), many[0].UserID)
	assert.Equal(t, Online, many[0].Status)
	assert.Equal(t, Offline, many[1].Status)
	assert.Equal(t, Offline, many[2].Status)

	online, err := svc.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, online)
}

func TestOnlineUsersAgreesWithTracker(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addSession(t, repo, 5, "expired", fixedNow.Add(-time.Hour), fixedNow.Add(-5*time.Minute), ptr(fixedNow.Add(-time.Minute)))
	addSession(t, repo, 6, "edge", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), ptr(fixedNow.Add(-900*time.Second)))
	addSession(t, repo, 7, "idle", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), ptr(fixedNow.Add(-901*time.Second)))

	many, err := svc.PresenceMany(ctx, []int64{5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, Offline, many[0].Status)
	assert.Equal(t, Online, many[1].Status)
	assert.Equal(t, Offline, many[2].Status)

	online, err := svc.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, online)
}

func TestAuthenticate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addSession(t, repo, 4, "live", fixedNow, fixedNow.Add(time.Hour), ptr(fixedNow))
	addSession(t, repo, 5, "stale", fixedNow.Add(-2*time.Hour), fixedNow.Add(-time.Second), ptr(fixedNow))

	id, err := svc.Authenticate(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	_, err = svc.Authenticate(ctx, "stale")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	_, err = svc.Authenticate(ctx, "missing")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	_, err = svc.Authenticate(ctx, " ")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

type allowAll struct{}

func (allowAll) Require(string, string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func TestMiddlewareAndPresenceRoutes(t *testing.T) {
	svc, repo := newTestService(t)
	addSession(t, repo, 4, "live", fixedNow, fixedNow.Add(time.Hour), ptr(fixedNow))

	var seen int64
	r := chi.NewRouter()
	r.Use(svc.Middleware(nil))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/users", NewHandler(nil, svc, allowAll{}).MountRoutes)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer live")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(4), seen)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/4/presence", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"online"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/presence?ids=4,x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
