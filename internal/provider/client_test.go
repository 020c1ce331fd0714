package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsync/internal/config"
)

func newTestClient(serverURL string, categories []string) *Client {
	return NewClient(config.ProviderConfig{
		BaseURL:    serverURL,
		Timeout:    5 * time.Second,
		Categories: categories,
	})
}

func TestSyncUserSuccess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-RateLimit-Remaining", "80")
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining-24h", "900")
		w.Header().Set("X-RateLimit-Limit-24h", "1000")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"id": 1}, {"id": 2}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity", "sleep"})
	result, err := client.SyncUser(context.Background(), "token-123", 7*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, 2, result.APICalls)
	assert.Equal(t, 2, result.RecordsByCategory["activity"])
	assert.Equal(t, 2, result.RecordsByCategory["sleep"])
	assert.Equal(t, 4, result.TotalRecords())

	require.NotNil(t, result.RateLimit.Remaining15m)
	assert.Equal(t, 80, *result.RateLimit.Remaining15m)
	require.NotNil(t, result.RateLimit.Remaining24h)
	assert.Equal(t, 900, *result.RateLimit.Remaining24h)
}

func TestSyncUserAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "token expired"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity"})
	result, err := client.SyncUser(context.Background(), "bad-token", time.Hour)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, authErr.Message, "token expired")
	assert.Equal(t, 1, result.APICalls)
}

func TestSyncUserRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity"})
	_, err := client.SyncUser(context.Background(), "token", time.Hour)
	require.Error(t, err)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 10*time.Minute, rlErr.RetryAfter)
}

func TestSyncUserRateLimitedDefaultRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity"})
	_, err := client.SyncUser(context.Background(), "token", time.Hour)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 15*time.Minute, rlErr.RetryAfter)
}

func TestSyncUserServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity"})
	_, err := client.SyncUser(context.Background(), "token", time.Hour)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestSyncUserMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity"})
	_, err := client.SyncUser(context.Background(), "token", time.Hour)

	var transformErr *TransformError
	require.ErrorAs(t, err, &transformErr)
}

func TestSyncUserConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed before use

	client := newTestClient(server.URL, []string{"activity"})
	_, err := client.SyncUser(context.Background(), "token", time.Hour)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestSyncUserStopsAtFirstFault(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, []string{"activity", "sleep", "heart_rate"})
	result, err := client.SyncUser(context.Background(), "token", time.Hour)
	require.Error(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.APICalls)
}

func TestParseRateLimitHeadersAbsent(t *testing.T) {
	snapshot := parseRateLimitHeaders(http.Header{})
	assert.Nil(t, snapshot)
}

func TestParseRateLimitHeadersPartial(t *testing.T) {
	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "42")

	snapshot := parseRateLimitHeaders(header)
	require.NotNil(t, snapshot)
	require.NotNil(t, snapshot.Remaining15m)
	assert.Equal(t, 42, *snapshot.Remaining15m)
	assert.Nil(t, snapshot.Remaining24h)
	assert.Nil(t, snapshot.Limit15m)
}
