package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RelayPlane/proxy/internal/alerts"
	"github.com/RelayPlane/proxy/internal/anomaly"
	"github.com/RelayPlane/proxy/internal/budget"
	"github.com/RelayPlane/proxy/internal/cache"
	"github.com/RelayPlane/proxy/internal/classifier"
	"github.com/RelayPlane/proxy/internal/cooldown"
	"github.com/RelayPlane/proxy/internal/downgrade"
	"github.com/RelayPlane/proxy/internal/envelope"
	"github.com/RelayPlane/proxy/internal/mesh"
	"github.com/RelayPlane/proxy/internal/providers"
	"github.com/RelayPlane/proxy/internal/router"
	"github.com/RelayPlane/proxy/internal/telemetry"
	"github.com/RelayPlane/proxy/internal/upstream"
)

// anthropicResponseBody builds a minimal valid /v1/messages response for
// a test upstream to return.
func anthropicResponseBody(text string, tokensIn, tokensOut int) []byte {
	resp := providers.AnthropicResponse{
		ID:    "msg_test",
		Type:  "message",
		Role:  "assistant",
		Model: "claude-sonnet-4-6",
		Content: []providers.AnthropicContentBlock{
			{Type: "text", Text: text},
		},
		StopReason: "end_turn",
		Usage:      providers.AnthropicUsage{InputTokens: tokensIn, OutputTokens: tokensOut},
	}
	b, _ := json.Marshal(resp)
	return b
}

// newTestOrchestrator builds an Orchestrator with bare in-memory
// subsystems, pointed at a test upstream server instead of any live
// provider host.
func newTestOrchestrator(t *testing.T, server *httptest.Server, mutate func(*Deps)) *Orchestrator {
	t.Helper()

	deps := &Deps{
		Cache:      cache.New(cache.DefaultConfig()),
		Budget:     budget.New(budget.DefaultConfig()),
		Anomaly:    anomaly.New(anomaly.DefaultConfig()),
		Alerts:     alerts.New(alerts.DefaultConfig()),
		Downgrade:  downgrade.DefaultConfig(),
		Router:     router.DefaultConfig(),
		Thresholds: classifier.DefaultThresholds(),
		Cooldown:   cooldown.New(cooldown.DefaultConfig()),
		Upstream:   upstream.NewClient(5*time.Second, false),
		Mesh:       mesh.NoopClient{},
		Telemetry:  telemetry.NoopSink{},
		Env:        map[string]string{},
		KnownModels: []string{
			"claude-opus-4-6", "claude-sonnet-4-6", "claude-haiku-4-6", "claude-haiku-4-5",
		},
		StartedAt: time.Now(),
	}
	deps.PipelineEnabled.Store(true)
	if mutate != nil {
		mutate(deps)
	}

	o := NewOrchestrator(deps)
	if server != nil {
		o.resolveTarget = func(model string) (providers.Target, bool) {
			return providers.Target{
				ProviderID: "anthropic",
				BaseURL:    server.URL,
				Shape:      providers.WireAnthropic,
				AuthHeader: "x-api-key",
			}, true
		}
	}
	return o
}

func anthropicBody(t *testing.T, model string, messages []envelope.Message, temperature *float64) []byte {
	t.Helper()
	req := providers.AnthropicRequest{Model: model, MaxTokens: 256, Temperature: temperature}
	for _, m := range messages {
		req.Messages = append(req.Messages, providers.AnthropicMessage{Role: m.Role, Content: m.Content})
	}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

func TestCacheExactModeHit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(anthropicResponseBody("hello there", 10, 5))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, nil)

	zero := 0.0
	body := anthropicBody(t, "claude-sonnet-4-6", []envelope.Message{{Role: "user", Content: "hi"}}, &zero)

	creds := map[string]string{"Authorization-Credential": "sk-ant-api-test-key"}
	first := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, creds)
	require.Equal(t, 200, first.StatusCode)

	second := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, creds)
	require.Equal(t, 200, second.StatusCode)
	require.Equal(t, first.Body, second.Body)
	require.Equal(t, "hit", second.Headers["X-RelayPlane-Cache"])
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCacheAggressiveModeIgnoresHistory(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(anthropicResponseBody("4", 8, 2))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, func(d *Deps) {
		cfg := cache.DefaultConfig()
		cfg.Mode = cache.ModeAggressive
		d.Cache = cache.New(cfg)
	})

	zero := 0.0
	bodyA := anthropicBody(t, "claude-sonnet-4-6", []envelope.Message{
		{Role: "user", Content: "let's talk about turtles"},
		{Role: "assistant", Content: "sure"},
		{Role: "user", Content: "What is 2+2?"},
	}, &zero)
	bodyB := anthropicBody(t, "claude-sonnet-4-6", []envelope.Message{
		{Role: "user", Content: "completely different prior turn"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "What is 2+2?"},
	}, &zero)

	creds := map[string]string{"Authorization-Credential": "sk-ant-api-test-key"}
	first := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, bodyA, creds)
	require.Equal(t, 200, first.StatusCode)

	second := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, bodyB, creds)
	require.Equal(t, 200, second.StatusCode)
	require.Equal(t, first.Body, second.Body)
	require.Equal(t, "hit", second.Headers["X-RelayPlane-Cache"])
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBudgetBlockPath(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(anthropicResponseBody("hi", 1, 1))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, func(d *Deps) {
		cfg := budget.DefaultConfig()
		cfg.DailyUSD = 1
		cfg.OnBreach = budget.ActionBlock
		d.Budget = budget.New(cfg)
		d.Budget.RecordSpend(1.00, "claude-sonnet-4-6")
	})

	body := anthropicBody(t, "claude-sonnet-4-6", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{})

	require.True(t, outcome.StatusCode >= 400)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestBudgetDowngradePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(anthropicResponseBody("hi", 1, 1))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, func(d *Deps) {
		budgetCfg := budget.DefaultConfig()
		budgetCfg.DailyUSD = 10
		d.Budget = budget.New(budgetCfg)
		d.Budget.RecordSpend(8.00, "claude-opus-4-6")

		downgradeCfg := downgrade.DefaultConfig()
		downgradeCfg.TriggerPercent = 80
		downgradeCfg.Mapping = map[string]string{"claude-opus-4-6": "claude-sonnet-4-6"}
		d.Downgrade = downgradeCfg
	})

	body := anthropicBody(t, "claude-opus-4-6", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{"Authorization-Credential": "sk-ant-api-test-key"})

	require.Equal(t, 200, outcome.StatusCode)
	require.Equal(t, "true", outcome.Headers["X-RelayPlane-Downgraded"])
	require.Equal(t, "claude-opus-4-6", outcome.Headers["X-RelayPlane-Original-Model"])
	require.Equal(t, "claude-sonnet-4-6", outcome.Headers["X-RelayPlane-Routed-Model"])
}

func TestRepetitionAnomalyFiresOnTwentiethCall(t *testing.T) {
	detector := anomaly.New(anomaly.DefaultConfig())

	var findings []anomaly.Finding
	for i := 0; i < 20; i++ {
		findings = detector.RecordAndAnalyze(anomaly.Trace{
			Timestamp:   time.Now(),
			Model:       "x",
			TaskType:    "moderate",
			TokensIn:    1050,
			TokensOut:   50,
			LastMessage: "repeat me",
		})
	}

	var gotRepetition bool
	for _, f := range findings {
		if f.Kind == anomaly.KindRepetition {
			gotRepetition = true
		}
	}
	require.True(t, gotRepetition, "expected a repetition finding on the 20th call")
}

func TestAuthOAuthPlusHaikuUsesEnvKeyWhenConfigured(t *testing.T) {
	var gotAPIKeyHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKeyHeader = r.Header.Get("x-api-key")
		w.Write(anthropicResponseBody("hi", 1, 1))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, func(d *Deps) {
		d.Env = map[string]string{"ANTHROPIC_API_KEY": "sk-ant-api-real-key"}
	})

	body := anthropicBody(t, "claude-haiku-4-5", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{
		"Authorization-Credential": "sk-ant-REDACTED",
	})

	require.Equal(t, 200, outcome.StatusCode)
	require.Equal(t, "sk-ant-api-real-key", gotAPIKeyHeader)
}

func TestAuthOAuthPlusHaikuWithoutEnvKeyIsUnauthorized(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write(anthropicResponseBody("hi", 1, 1))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, func(d *Deps) {
		d.Env = map[string]string{}
	})

	body := anthropicBody(t, "claude-haiku-4-5", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{
		"Authorization-Credential": "sk-ant-REDACTED",
	})

	require.Equal(t, 401, outcome.StatusCode)
	require.False(t, called)
}

func TestRetryAfterHeaderSurvivesOnUpstream429(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, nil)
	body := anthropicBody(t, "claude-sonnet-4-6", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{"Authorization-Credential": "sk-ant-api-test-key"})

	require.Equal(t, http.StatusTooManyRequests, outcome.StatusCode)
	require.Equal(t, strconv.Itoa(12), outcome.Headers["Retry-After"])
	require.Equal(t, "miss", outcome.Headers["X-RelayPlane-Cache"])
}

func TestCascadeGrantsExactlyMaxEscalations(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(anthropicResponseBody("I'm not sure, but maybe.", 5, 5))
	}))
	defer server.Close()

	o := newTestOrchestrator(t, server, func(d *Deps) {
		cfg := router.DefaultConfig()
		cfg.Mode = router.ModeCascade
		cfg.CascadeModels = []string{"claude-haiku-4-6", "claude-sonnet-4-6", "claude-opus-4-6"}
		cfg.MaxEscalations = 2
		d.Router = cfg
	})

	body := anthropicBody(t, "claude-haiku-4-6", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{"Authorization-Credential": "sk-ant-api-test-key"})

	// every response stays uncertain, so the cascade should run all three
	// configured models — the initial forward plus two granted escalations
	// — before exhausting, rather than stopping after only one escalation.
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Equal(t, "2", outcome.Headers["X-RelayPlane-Escalations"])
}

func TestUnknownModelReturnsSuggestions(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)
	body := anthropicBody(t, "claude-sonet-4-6", []envelope.Message{{Role: "user", Content: "hi"}}, nil)
	outcome := o.HandleChatRequest(context.Background(), envelope.FamilyAnthropic, body, map[string]string{})

	require.Equal(t, 400, outcome.StatusCode)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(outcome.Body, &decoded))
	require.Contains(t, decoded, "suggestions")
}
