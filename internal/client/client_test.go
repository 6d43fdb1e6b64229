package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authix.org/internal/auth"
	"authix.org/internal/auth/authtest"
	"authix.org/internal/httpapi"
)

func fakeServer(t *testing.T, profileHits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":     "Login successful",
			"user":        map[string]string{"id": "u1", "username": "alice"},
			"accessToken": "access-1",
		})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Access token required"})
			return
		}
		profileHits.Add(1)
		_ = json.NewEncoder(w).Encode(auth.Profile{ID: "u1", Username: "alice"})
	})
	mux.HandleFunc("/admin/assign-role", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/admin/users/u1/roles/r1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/admin/roles/r1/permissions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Role permissions updated"}`))
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProfileCacheInvalidation(t *testing.T) {
	var hits atomic.Int32
	srv := fakeServer(t, &hits)
	c, err := New(srv.URL, WithProfileTTL(time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p, err := c.Profile(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Username)
	}
	assert.Equal(t, int32(1), hits.Load(), "profile should be served from cache")

	require.NoError(t, c.AssignRole(ctx, "u1", "r1"))
	_, err = c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "AssignRole must invalidate the cache")

	require.NoError(t, c.RemoveRole(ctx, "u1", "r1"))
	_, err = c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load(), "RemoveRole must invalidate the cache")

	require.NoError(t, c.SetRolePermissions(ctx, "r1", nil))
	_, err = c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), hits.Load(), "SetRolePermissions must invalidate the cache")

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.AccessToken())
	_, err = c.Profile(ctx)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestProfileCacheExpires(t *testing.T) {
	var hits atomic.Int32
	srv := fakeServer(t, &hits)
	c, err := New(srv.URL, WithProfileTTL(20*time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = c.Profile(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := c.Profile(ctx)
		return err == nil && hits.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestProfileCacheDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := fakeServer(t, &hits)
	c, err := New(srv.URL, WithProfileTTL(0))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Profile(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestSessionAgainstServer(t *testing.T) {
	store := authtest.Seeded()
	tokens, err := auth.NewTokens("access-secret-access-secret-0001", "refresh-secret-refresh-secret-01")
	require.NoError(t, err)
	svc, err := auth.NewService(store, tokens)
	require.NoError(t, err)
	rbac, err := auth.NewRBACService(store)
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.New(httpapi.ReadyProbe{}, "test", svc, rbac).Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	c, err := New(srv.URL)
	require.NoError(t, err)

	user, err := c.Signup(ctx, SignupRequest{Name: "Nora", Username: "nora", Email: "n@x.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "nora", user.Username)

	profile, err := c.Profile(ctx)
	require.NoError(t, err)
	require.Len(t, profile.Roles, 1)
	assert.Equal(t, "user", profile.Roles[0].Name)

	first := c.AccessToken()
	require.NoError(t, c.Refresh(ctx))
	assert.NotEmpty(t, c.AccessToken())
	assert.NotEqual(t, first, c.AccessToken())

	_, err = c.ListRoles(ctx)
	assert.True(t, IsStatus(err, http.StatusForbidden))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "You do not have the required permission: roles.read", apiErr.Message)

	require.NoError(t, c.Logout(ctx))
	err = c.Refresh(ctx)
	assert.True(t, IsStatus(err, http.StatusUnauthorized), "refresh cookie should be gone after logout: %v", err)

	_, err = c.Login(ctx, "nora", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, c.Refresh(ctx))
}
