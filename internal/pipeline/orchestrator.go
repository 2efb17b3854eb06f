package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RelayPlane/proxy/internal/alerts"
	"github.com/RelayPlane/proxy/internal/anomaly"
	"github.com/RelayPlane/proxy/internal/authresolve"
	"github.com/RelayPlane/proxy/internal/cache"
	"github.com/RelayPlane/proxy/internal/classifier"
	"github.com/RelayPlane/proxy/internal/downgrade"
	"github.com/RelayPlane/proxy/internal/envelope"
	"github.com/RelayPlane/proxy/internal/providers"
	"github.com/RelayPlane/proxy/internal/router"
	"github.com/RelayPlane/proxy/internal/telemetry"
	"github.com/RelayPlane/proxy/internal/upstream"
)

// Orchestrator drives the stage table of spec.md §2 over one Deps value.
type Orchestrator struct {
	deps *Deps

	// resolveTarget defaults to providers.ResolveTarget; tests substitute a
	// stub pointing at an httptest.Server instead of a live provider host.
	resolveTarget func(model string) (providers.Target, bool)
}

func NewOrchestrator(deps *Deps) *Orchestrator {
	return &Orchestrator{deps: deps, resolveTarget: providers.ResolveTarget}
}

// NewOrchestratorForTest builds an Orchestrator with a caller-supplied
// target resolver, letting package-external tests (e.g. internal/server)
// point egress at an httptest.Server instead of a live provider host.
func NewOrchestratorForTest(deps *Deps, resolveTarget func(model string) (providers.Target, bool)) *Orchestrator {
	return &Orchestrator{deps: deps, resolveTarget: resolveTarget}
}

// Outcome is everything HandleChatRequest needs to write an HTTP response.
type Outcome struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// HandleChatRequest runs the full pipeline for one inbound request body in
// the given wire family, parsing it, driving every stage in strict order,
// and returning the outcome to forward to the client. A recover() at this
// boundary converts any subsystem panic into a 500 without touching any
// subsystem's lock afterward — the proxy never corrupts shared state on a
// single request's failure.
func (o *Orchestrator) HandleChatRequest(ctx context.Context, family envelope.ProviderFamily, body []byte, headers map[string]string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🛑 pipeline: recovered panic: %v", r)
			outcome = errorOutcome(family, internalError(fmt.Sprintf("internal error: %v", r)))
		}
	}()

	if strings.EqualFold(headers["X-RelayPlane-Bypass"], "true") || !o.deps.PipelineEnabled.Load() {
		return o.forwardBypassed(ctx, family, body, headers)
	}

	env, err := parse(family, body)
	if err != nil {
		return errorOutcome(family, inputError(400, "malformed request body: "+err.Error(), nil))
	}
	env.Headers = headers
	env.RequestID = envelope.NewRequestID()

	resolvedModel, _ := router.Resolve(env.Model, o.deps.Router.Aliases, o.deps.Router.Overrides)
	originalModel := env.Model
	env.Model = resolvedModel

	if _, ok := o.resolveTarget(resolvedModel); !ok {
		return errorOutcome(family, inputError(400, "unknown model: "+resolvedModel, suggestModels(resolvedModel, o.deps.KnownModels)))
	}

	// Cache lookup.
	if entry, hit := o.deps.Cache.Lookup(env); hit {
		h := responseHeaders(resolvedModel, originalModel, "hit", router.ModePassthrough, nil)
		return Outcome{StatusCode: 200, Body: entry.Body, Headers: h}
	}
	cacheStatus := "miss"

	// Budget precheck.
	budgetResult := o.deps.Budget.CheckBudget(0)
	if budgetResult.Breached && budgetResult.Action == "block" {
		return errorOutcome(family, policyError(402, "daily or hourly budget exceeded"))
	}
	for _, pct := range budgetResult.ThresholdsCrossed {
		o.deps.Budget.MarkThresholdFired(pct)
		o.deps.Alerts.FireThreshold(fmt.Sprintf("threshold:%v", pct), pct, budgetResult.CurrentDailySpend)
	}

	// Anomaly precheck is read-only; recording happens in post-process below.
	_ = o.deps.Anomaly.Snapshot()

	// Auto-downgrade.
	downgradeResult := downgrade.Apply(env.Model, budgetResult.DailyUtilizationPct, o.deps.Downgrade)
	if downgradeResult.Downgraded {
		env.Model = downgradeResult.NewModel
	}

	// Complexity classification.
	tier := classifier.Classify(classifier.Input{
		MessageCount:    len(env.Messages),
		TotalTokenLen:   env.TotalMessageLength(),
		HasTools:        len(env.Tools) > 0,
		LastUserMessage: env.LastUserMessage(),
	}, o.deps.Thresholds)

	// Route selection.
	decision := router.Route(env.Model, tier, o.deps.Router)
	env.Model = decision.Model

	forwardResp, forwardErr, escalations := o.runForwardCascade(ctx, family, env, decision, headers)
	if forwardErr != nil {
		return errorOutcome(family, upstreamError(502, "upstream request failed: "+forwardErr.Error()))
	}
	if forwardResp.StatusCode >= 400 {
		forwardResp.Headers = mergeHeaders(forwardResp.Headers, responseHeaders(env.Model, originalModel, cacheStatus, decision.Mode, &escalations))
		return forwardResp
	}

	// Response post-process: cache insert, budget record, anomaly record, alert emit.
	tokensIn, tokensOut := usageOf(family, forwardResp.Body)
	costUSD := estimateCost(env.Model, tokensIn, tokensOut)
	taskType := string(tier)

	o.deps.Cache.Insert(env, taskType, cache.InsertParams{
		Body: forwardResp.Body, Model: env.Model, TaskType: taskType,
		TokensIn: tokensIn, TokensOut: tokensOut, CostUSD: costUSD,
		HasToolCalls: hasToolCall(family, forwardResp.Body),
	})
	o.deps.Budget.RecordSpend(costUSD, env.Model)

	findings := o.deps.Anomaly.RecordAndAnalyze(anomaly.Trace{
		Timestamp:   time.Now(),
		Model:       env.Model,
		TaskType:    taskType,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		CostUSD:     costUSD,
		LastMessage: env.LastUserMessage(),
	})
	for _, f := range findings {
		o.deps.Alerts.FireAnomaly("anomaly:"+string(f.Kind), alerts.Severity(f.Severity), string(f.Kind), f.Detail)
	}

	o.deps.Telemetry.Record(telemetry.Event{
		RequestID:   env.RequestID,
		Model:       env.Model,
		RoutedModel: env.Model,
		TaskType:    taskType,
		CacheStatus: cacheStatus,
		Downgraded:  downgradeResult.Downgraded,
		Mode:        string(decision.Mode),
		Escalations: escalations,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		CostUSD:     costUSD,
		StatusCode:  forwardResp.StatusCode,
		Timestamp:   time.Now(),
	})

	h := responseHeaders(env.Model, originalModel, cacheStatus, decision.Mode, &escalations)
	if downgradeResult.Downgraded {
		h["X-RelayPlane-Downgraded"] = "true"
		h["X-RelayPlane-Downgrade-Reason"] = downgradeResult.Reason
	}
	forwardResp.Headers = mergeHeaders(forwardResp.Headers, h)
	return forwardResp
}

// mergeHeaders layers overlay onto base without discarding anything base
// already set (e.g. forward()'s Retry-After on a 429), overlay winning on
// key collision.
func mergeHeaders(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// runForwardCascade drives Forward and, in cascade mode, the escalation
// state machine of spec.md §9: advance to the next model on a detected
// trigger, stopping at Done or Exhausted.
func (o *Orchestrator) runForwardCascade(ctx context.Context, family envelope.ProviderFamily, env *envelope.Envelope, decision router.Decision, headers map[string]string) (Outcome, error, int) {
	numModels := len(o.deps.Router.CascadeModels)
	if numModels == 0 {
		numModels = 1
	}

	state := router.InitialState()
	if decision.Mode == router.ModeCascade {
		state = router.Advance(state, router.TriggerNone, 0, numModels, o.deps.Router.MaxEscalations)
	}

	escalations := 0
	var outcome Outcome
	var forwardErr error

	for {
		target, ok := o.resolveTarget(env.Model)
		if !ok {
			return Outcome{}, fmt.Errorf("unknown model: %s", env.Model), escalations
		}

		if !o.deps.Cooldown.Allowed(target.ProviderID) {
			return errorOutcome(family, policyError(503, "provider "+target.ProviderID+" is cooling down after repeated failures")), nil, escalations
		}

		authDecision := authresolve.Resolve(headers["Authorization-Credential"], target.SupportsOAuth, o.deps.envAPIKeyFor(target.ProviderID))
		if authDecision.Outcome == authresolve.OutcomeUnauthorized || authDecision.Outcome == authresolve.OutcomeMissingCredential {
			return errorOutcome(family, authError(authDecision.Explanation)), nil, escalations
		}

		outcome, forwardErr = o.forward(ctx, target, authDecision, env)
		retryable := forwardErr == nil && (outcome.StatusCode == http.StatusTooManyRequests || outcome.StatusCode >= 500)
		if forwardErr != nil || retryable {
			o.deps.Cooldown.RecordFailure(target.ProviderID)
		} else {
			o.deps.Cooldown.RecordSuccess(target.ProviderID)
		}

		if decision.Mode != router.ModeCascade {
			return outcome, forwardErr, escalations
		}

		var trigger router.EscalationTrigger
		switch {
		case forwardErr != nil, retryable:
			trigger = router.TriggerTransport
		default:
			trigger = router.DetectTrigger(responseText(family, outcome.Body), nil)
		}

		state = router.Advance(state, trigger, escalations, numModels, o.deps.Router.MaxEscalations)
		if state.Kind == "escalating" {
			state = router.Advance(state, trigger, escalations, numModels, o.deps.Router.MaxEscalations)
			if state.Kind == "forwarding" {
				escalations++
			}
		}
		if state.Kind != "forwarding" {
			return outcome, forwardErr, escalations
		}
		env.Model = o.deps.Router.NextCascadeModel(state.Idx)
	}
}

func (o *Orchestrator) forwardBypassed(ctx context.Context, family envelope.ProviderFamily, body []byte, headers map[string]string) Outcome {
	env, err := parse(family, body)
	if err != nil {
		return errorOutcome(family, inputError(400, "malformed request body: "+err.Error(), nil))
	}

	target, ok := o.resolveTarget(env.Model)
	if !ok {
		return errorOutcome(family, inputError(400, "unknown model: "+env.Model, suggestModels(env.Model, o.deps.KnownModels)))
	}

	authDecision := authresolve.Resolve(headers["Authorization-Credential"], target.SupportsOAuth, o.deps.envAPIKeyFor(target.ProviderID))
	if authDecision.Outcome == authresolve.OutcomeUnauthorized || authDecision.Outcome == authresolve.OutcomeMissingCredential {
		return errorOutcome(family, authError(authDecision.Explanation))
	}

	outcome, err := o.forward(ctx, target, authDecision, env)
	if err != nil {
		return errorOutcome(family, upstreamError(502, "upstream request failed: "+err.Error()))
	}
	outcome.Headers = map[string]string{"X-RelayPlane-Cache": "bypass"}
	return outcome
}

func (o *Orchestrator) forward(ctx context.Context, target providers.Target, auth authresolve.Decision, env *envelope.Envelope) (Outcome, error) {
	body := buildForwardBody(target, env)

	headers := map[string]string{"Content-Type": "application/json"}
	switch auth.Outcome {
	case authresolve.OutcomeBearerFromOAuth:
		headers["Authorization"] = "Bearer " + auth.Credential
	case authresolve.OutcomeEnvAPIKey, authresolve.OutcomePassthrough:
		if target.AuthHeader == "Authorization" {
			headers[target.AuthHeader] = target.AuthPrefix + auth.Credential
		} else {
			headers[target.AuthHeader] = auth.Credential
		}
	}

	resp, err := o.deps.Upstream.Do(ctx, upstream.Request{
		Method:  http.MethodPost,
		URL:     target.BaseURL,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	var outHeaders map[string]string
	if resp.StatusCode == http.StatusTooManyRequests {
		if delay := upstream.ParseRetryDelay(resp); delay > 0 {
			outHeaders = map[string]string{"Retry-After": strconv.Itoa(int(delay.Seconds()))}
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{StatusCode: resp.StatusCode, Body: respBody, Headers: outHeaders}, nil
}

func parse(family envelope.ProviderFamily, body []byte) (*envelope.Envelope, error) {
	if family == envelope.FamilyOpenAI {
		return providers.ParseOpenAIRequest(body)
	}
	return providers.ParseAnthropicRequest(body)
}

func buildForwardBody(target providers.Target, env *envelope.Envelope) []byte {
	if target.Shape == providers.WireOpenAI {
		return toOpenAIBody(env)
	}
	return toAnthropicBody(env)
}

func toOpenAIBody(env *envelope.Envelope) []byte {
	req := providers.OpenAIChatRequest{
		Model:       env.Model,
		Temperature: env.Temperature,
		MaxTokens:   env.MaxTokens,
		TopP:        env.TopP,
		Stop:        env.StopSeqs,
		ToolChoice:  env.ToolChoice,
		Stream:      false,
	}
	if env.System != "" {
		req.Messages = append(req.Messages, providers.OpenAIMessage{Role: "system", Content: env.System})
	}
	for _, m := range env.Messages {
		req.Messages = append(req.Messages, providers.OpenAIMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range env.Tools {
		req.Tools = append(req.Tools, providers.OpenAITool{
			Type:     "function",
			Function: &providers.OpenAIFunctionSpec{Name: t.Name, Description: t.Description},
		})
	}
	b, _ := json.Marshal(req)
	return b
}

func toAnthropicBody(env *envelope.Envelope) []byte {
	req := providers.AnthropicRequest{
		Model:       env.Model,
		System:      env.System,
		Temperature: env.Temperature,
		TopP:        env.TopP,
		TopK:        env.TopK,
		StopSeqs:    env.StopSeqs,
		ToolChoice:  env.ToolChoice,
		Stream:      false,
	}
	if env.MaxTokens != nil {
		req.MaxTokens = *env.MaxTokens
	} else {
		req.MaxTokens = 4096
	}
	for _, m := range env.Messages {
		req.Messages = append(req.Messages, providers.AnthropicMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range env.Tools {
		req.Tools = append(req.Tools, providers.AnthropicTool{Name: t.Name, Description: t.Description})
	}
	b, _ := json.Marshal(req)
	return b
}

func usageOf(family envelope.ProviderFamily, body []byte) (int, int) {
	if family == envelope.FamilyOpenAI {
		return providers.OpenAIUsageOf(body)
	}
	return providers.AnthropicUsageOf(body)
}

func responseText(family envelope.ProviderFamily, body []byte) string {
	if family == envelope.FamilyOpenAI {
		return providers.OpenAIResponseText(body)
	}
	return providers.AnthropicResponseText(body)
}

func hasToolCall(family envelope.ProviderFamily, body []byte) bool {
	if family == envelope.FamilyOpenAI {
		return providers.HasToolCallOpenAI(body)
	}
	return providers.HasToolCall(body)
}

// estimateCost is a small, explicit per-model price table. spec.md names
// no pricing source, so a conservative flat table grounds the budget and
// anomaly math in something deterministic and testable rather than a
// fabricated billing API call.
func estimateCost(model string, tokensIn, tokensOut int) float64 {
	pricePerMillionIn, pricePerMillionOut := 3.0, 15.0
	switch {
	case strings.Contains(model, "haiku") || strings.Contains(model, "mini") || strings.Contains(model, "nano") || strings.Contains(model, "flash"):
		pricePerMillionIn, pricePerMillionOut = 0.25, 1.25
	case strings.Contains(model, "opus"):
		pricePerMillionIn, pricePerMillionOut = 15.0, 75.0
	}
	return float64(tokensIn)/1_000_000*pricePerMillionIn + float64(tokensOut)/1_000_000*pricePerMillionOut
}

func suggestModels(requested string, known []string) []string {
	return classifier.SuggestModels(requested, known, 4)
}

func responseHeaders(routedModel, originalModel, cacheStatus string, mode router.Mode, escalations *int) map[string]string {
	h := map[string]string{
		"X-RelayPlane-Routed-Model":   routedModel,
		"X-RelayPlane-Original-Model": originalModel,
		"X-RelayPlane-Cache":          cacheStatus,
		"X-RelayPlane-Mode":           string(mode),
	}
	if escalations != nil {
		h["X-RelayPlane-Escalations"] = strconv.Itoa(*escalations)
	}
	return h
}

func errorOutcome(family envelope.ProviderFamily, err *StageError) Outcome {
	var body []byte
	if family == envelope.FamilyOpenAI {
		body = providers.WriteErrorOpenAI(err.Message, string(err.Kind), err.Status)
	} else {
		body = providers.WriteErrorAnthropic(err.Message, string(err.Kind))
	}
	if len(err.Suggestions) > 0 {
		var withSuggestions map[string]interface{}
		_ = json.Unmarshal(body, &withSuggestions)
		withSuggestions["suggestions"] = err.Suggestions
		body, _ = json.Marshal(withSuggestions)
	}
	return Outcome{StatusCode: err.Status, Body: body, Headers: map[string]string{}}
}
