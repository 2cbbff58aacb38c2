package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Missing or invalid token."}`))
			return
		}
		_, _ = w.Write([]byte(`{"username":"alice"}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")
	var out map[string]any
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/api/auth/me", "tok", nil, &out))
	assert.Equal(t, "alice", out["username"])

	err := c.do(context.Background(), http.MethodGet, "/api/auth/me", "", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 Missing or invalid token.")
}

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	_, err := loadSession(path)
	assert.ErrorContains(t, err, "not logged in")

	require.NoError(t, saveSession(path, session{Token: "tok", Username: "alice"}))
	s, err := loadSession(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Username)

	require.NoError(t, clearSession(path))
	require.NoError(t, clearSession(path))
	assert.Error(t, saveSession(path, session{}))
}

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("https://api.example.com", "/ws", url.Values{"username": {"bob"}})
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws?username=bob", u)
}
