package mesh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRESTClientSyncPostsStatsAndParsesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mesh/sync", r.URL.Path)
		var got Stats
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, int64(42), got.RequestCount)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SyncResult{Accepted: true, SyncedAt: "2026-08-06T00:00:00Z"})
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "test-key")
	result, err := client.Sync(context.Background(), Stats{RequestCount: 42})
	require.NoError(t, err)
	require.True(t, result.Accepted)
}

func TestRESTClientStatsParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mesh/stats", r.URL.Path)
		json.NewEncoder(w).Encode(Stats{RequestCount: 7, TotalCostUSD: 1.23})
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "")
	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), stats.RequestCount)
}

func TestRESTClientPropagatesNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "")
	_, err := client.Stats(context.Background())
	require.Error(t, err)
}

func TestNoopClientNeverErrors(t *testing.T) {
	var c Client = NoopClient{}
	_, err := c.Stats(context.Background())
	require.NoError(t, err)

	result, err := c.Sync(context.Background(), Stats{})
	require.NoError(t, err)
	require.False(t, result.Accepted)
}
