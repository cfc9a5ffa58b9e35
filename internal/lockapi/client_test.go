package lockapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignInCapturesSessionHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/users/sign_in", r.URL.Path)
		w.Header().Set("Access-Token", "tok-1")
		w.Header().Set("Client", "cli-1")
		w.Header().Set("Uid", "bot@example.com")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	session, err := client.SignIn(context.Background(), "bot", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", session["Access-Token"])
	assert.Equal(t, "cli-1", session["Client"])
	assert.Equal(t, "bot@example.com", session["Uid"])
}

func TestSignInRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.SignIn(context.Background(), "bot", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSignInMissingAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.SignIn(context.Background(), "bot", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access token")
}

func TestPeekSendsSessionAndReturnsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/locks/lock-1/peek", r.URL.Path)
		require.Equal(t, "tok-1", r.Header.Get("Access-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"locked tight"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	message, err := client.Peek(context.Background(), "lock-1", Session{"Access-Token": "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, "locked tight", message)
}

func TestUnlockUsesPut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/locks/lock-1/unlock", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"unlocked"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	message, err := client.Unlock(context.Background(), "lock-1", Session{"Access-Token": "tok-1"})
	require.NoError(t, err)
	assert.Equal(t, "unlocked", message)
}

func TestLockCallSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"bridge is down"}}`))
	}))
	defer server.Close()

	client, err := New(server.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.Peek(context.Background(), "lock-1", Session{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge is down")
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://locks.example", time.Second)
	require.Error(t, err)
}
