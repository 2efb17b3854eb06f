package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tempManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	cfg.StorePath = filepath.Join(t.TempDir(), "alerts.db")
	return New(cfg)
}

func TestFireThresholdReturnsAlert(t *testing.T) {
	m := tempManager(t, DefaultConfig())
	alert, fired := m.FireThreshold("threshold:2026-08-06:50", 50, 12.5)
	require.True(t, fired)
	require.Equal(t, SeverityWarning, alert.Severity)
}

func TestDedupCooldownSuppressesRepeatFire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = time.Hour
	m := tempManager(t, cfg)

	_, fired1 := m.FireBreach("breach:daily", "daily")
	require.True(t, fired1)

	_, fired2 := m.FireBreach("breach:daily", "daily")
	require.False(t, fired2, "same dedup key within the cooldown window must not refire")
}

func TestDifferentDedupKeysBothFire(t *testing.T) {
	m := tempManager(t, DefaultConfig())
	_, fired1 := m.FireAnomaly("anomaly:token_explosion", SeverityCritical, "token_explosion", "detail")
	_, fired2 := m.FireAnomaly("anomaly:velocity_spike", SeverityWarning, "velocity_spike", "detail")
	require.True(t, fired1)
	require.True(t, fired2)
}

func TestHistoryReturnsNewestFirst(t *testing.T) {
	m := tempManager(t, DefaultConfig())
	m.FireBreach("a", "daily")
	time.Sleep(2 * time.Millisecond)
	m.FireBreach("b", "hourly")

	history := m.History(10)
	require.Len(t, history, 2)
	require.Equal(t, "b", history[0].DedupKey)
}

func TestRingFallbackWithoutDurableStore(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg) // no StorePath => ring-only

	_, fired := m.FireBreach("ring-only", "daily")
	require.True(t, fired)
	require.Len(t, m.History(10), 1)
}

func TestRingCapsAtMaxHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 3
	m := New(cfg)

	for i := 0; i < 5; i++ {
		m.FireBreach(uniqueKey(i), "daily")
	}
	require.Len(t, m.History(10), 3)
}

func uniqueKey(i int) string {
	return "key-" + string(rune('a'+i))
}

func TestWebhookDeliveryPostsExpectedShape(t *testing.T) {
	var received int32
	var mu sync.Mutex
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.WebhookURL = server.URL
	m := tempManager(t, cfg)

	m.FireBreach("webhook-test", "daily")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "relayplane", gotBody["source"])
}
