// Package server wires the HTTP surface spec.md §6 describes onto one
// pipeline.Orchestrator, the way the teacher's cmd/nexus/main.go wires
// chi route groups onto its handlers package.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/RelayPlane/proxy/internal/config"
	"github.com/RelayPlane/proxy/internal/envelope"
	"github.com/RelayPlane/proxy/internal/mesh"
	"github.com/RelayPlane/proxy/internal/pipeline"
	"github.com/RelayPlane/proxy/internal/version"
)

// New builds the full chi router: Anthropic/OpenAI ingress, health and
// telemetry reads, runtime control, and mesh status/sync, all driving the
// one shared Orchestrator/Deps pair built at startup.
func New(o *pipeline.Orchestrator, deps *pipeline.Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler(deps))
	r.Get("/stats", statsHandler(deps))
	r.Get("/runs", runsHandler(deps))

	r.Post("/v1/messages", chatHandler(o, envelope.FamilyAnthropic))
	r.Post("/v1/chat/completions", chatHandler(o, envelope.FamilyOpenAI))

	// Kept alongside the spec's canonical /v1/messages as an additional
	// Anthropic-shape alias, matching the teacher's /anthropic/v1 mount.
	r.Route("/anthropic/v1", func(r chi.Router) {
		r.Post("/messages", chatHandler(o, envelope.FamilyAnthropic))
	})

	r.Route("/v1/telemetry", func(r chi.Router) {
		r.Get("/stats", statsHandler(deps))
		r.Get("/runs", runsHandler(deps))
		r.Get("/savings", savingsHandler(deps))
		r.Get("/health", healthHandler(deps))
	})

	r.Route("/control", func(r chi.Router) {
		r.Get("/status", controlStatusHandler(deps))
		r.Post("/enable", controlEnableHandler(deps, true))
		r.Post("/disable", controlEnableHandler(deps, false))
		r.Get("/config", controlConfigGetHandler(deps))
		r.Post("/config", controlConfigPostHandler(deps))
	})

	r.Route("/v1/mesh", func(r chi.Router) {
		r.Get("/stats", meshStatsHandler(deps))
		r.Post("/sync", meshSyncHandler(deps))
	})

	return r
}

// buildHeaders pulls the subset of inbound headers the pipeline needs:
// the bypass flag and the caller's auth credential, extracted from
// whichever of Authorization/x-api-key/x-goog-api-key/?key= the client
// sent, mirroring the order the teacher's middleware.APIKeyAuth checks
// them in.
func buildHeaders(r *http.Request) map[string]string {
	h := map[string]string{
		"X-RelayPlane-Bypass": r.Header.Get("X-RelayPlane-Bypass"),
	}
	if cred := extractCredential(r); cred != "" {
		h["Authorization-Credential"] = cred
	}
	return h
}

func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}

func chatHandler(o *pipeline.Orchestrator, family envelope.ProviderFamily) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		outcome := o.HandleChatRequest(r.Context(), family, body, buildHeaders(r))
		for k, v := range outcome.Headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.StatusCode)
		w.Write(outcome.Body)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func healthHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"version":           version.Version,
			"uptime_seconds":    int64(time.Since(deps.StartedAt).Seconds()),
			"has_provider_keys": deps.Env.HasAnyProviderAPIKey(),
		})
	}
}

func statsHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cacheStats := deps.Cache.Snapshot()
		budgetResult := deps.Budget.CheckBudget(0)
		runStats := deps.Runs.Stats()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"cache": map[string]interface{}{
				"hits":           cacheStats.Hits,
				"misses":         cacheStats.Misses,
				"bypasses":       cacheStats.Bypasses,
				"saved_cost_usd": cacheStats.SavedCostUSD,
			},
			"budget": map[string]interface{}{
				"current_daily_spend":   budgetResult.CurrentDailySpend,
				"current_hourly_spend":  budgetResult.CurrentHourlySpend,
				"daily_utilization_pct": budgetResult.DailyUtilizationPct,
			},
			"runs": runStats,
		})
	}
}

func runsHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"runs": deps.Runs.Runs(limit),
		})
	}
}

func savingsHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cacheStats := deps.Cache.Snapshot()
		runStats := deps.Runs.Stats()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"cache_saved_cost_usd": cacheStats.SavedCostUSD,
			"cache_hit_count":      cacheStats.Hits,
			"total_cost_usd":       runStats.TotalCostUSD,
		})
	}
}

func controlStatusHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled":     deps.PipelineEnabled.Load(),
			"router_mode": string(deps.Router.Mode),
			"cache_mode":  string(deps.Cache.Mode()),
		})
	}
}

func controlEnableHandler(deps *pipeline.Deps, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.PipelineEnabled.Store(enabled)
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": enabled})
	}
}

func controlConfigGetHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Config)
	}
}

type configPatch struct {
	ModelOverrides map[string]string `json:"model_overrides"`
}

func controlConfigPostHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		var patch configPatch
		if err := json.Unmarshal(body, &patch); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed config patch: "+err.Error())
			return
		}

		for client, target := range patch.ModelOverrides {
			deps.Router.Overrides[client] = target
			deps.Config.ModelOverrides[client] = target
		}

		if path, err := config.ConfigPath(); err == nil {
			if err := config.Save(path, *deps.Config); err != nil {
				log.Printf("⚠️ control: config persist failed, override applied in memory only: %v", err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"model_overrides": deps.Config.ModelOverrides})
	}
}

func meshStatsHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Mesh.Stats(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, "mesh stats unavailable: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func meshSyncHandler(deps *pipeline.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runStats := deps.Runs.Stats()
		cacheStats := deps.Cache.Snapshot()
		var hitRate float64
		if total := cacheStats.Hits + cacheStats.Misses; total > 0 {
			hitRate = float64(cacheStats.Hits) / float64(total)
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		result, err := deps.Mesh.Sync(ctx, mesh.Stats{
			RequestCount: runStats.TotalRequests,
			TotalCostUSD: runStats.TotalCostUSD,
			CacheHitRate: hitRate,
		})
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, "mesh sync failed: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
