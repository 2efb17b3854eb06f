// Package pipeline implements the Pipeline Orchestrator: the ordered
// stage table of spec.md §2, driving every subsystem package against one
// shared Deps value built at startup by cmd/relayplaned/main.go — no
// package-level singleton holds request-serving state, mirroring the
// teacher's explicit db/token-manager wiring into main rather than init().
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/RelayPlane/proxy/internal/alerts"
	"github.com/RelayPlane/proxy/internal/anomaly"
	"github.com/RelayPlane/proxy/internal/budget"
	"github.com/RelayPlane/proxy/internal/cache"
	"github.com/RelayPlane/proxy/internal/classifier"
	"github.com/RelayPlane/proxy/internal/config"
	"github.com/RelayPlane/proxy/internal/cooldown"
	"github.com/RelayPlane/proxy/internal/downgrade"
	"github.com/RelayPlane/proxy/internal/mesh"
	"github.com/RelayPlane/proxy/internal/router"
	"github.com/RelayPlane/proxy/internal/telemetry"
	"github.com/RelayPlane/proxy/internal/upstream"
)

// Deps bundles every subsystem the orchestrator drives. Tests construct
// one directly with in-memory/temp-dir stores; cmd/relayplaned/main.go
// constructs one from the loaded config at startup.
type Deps struct {
	Cache      *cache.Cache
	Budget     *budget.Manager
	Anomaly    *anomaly.Detector
	Alerts     *alerts.Manager
	Downgrade  downgrade.Config
	Router     router.Config
	Thresholds classifier.Thresholds
	Cooldown   *cooldown.Tracker
	Upstream   *upstream.Client
	Mesh       mesh.Client
	Telemetry  telemetry.Sink
	Runs       *telemetry.MemorySink
	Config     *config.Config
	Env        config.EnvSnapshot

	// KnownModels feeds the Levenshtein suggestion list on an unknown-model
	// 400 (spec.md §7).
	KnownModels []string

	StartedAt time.Time

	// PipelineEnabled gates every stage past the bypass check; POST
	// /control/disable flips it off, turning every request into a plain
	// forward with no cache, budget, or routing logic, the same as a
	// per-request X-RelayPlane-Bypass: true but process-wide.
	PipelineEnabled atomic.Bool
}

// NewDeps builds a Deps from a loaded config and environment snapshot,
// opening every durable store the config paths name. Any subsystem whose
// store fails to open degrades to memory-only and logs once; startup
// never aborts for a durable-store failure, only for the fatal
// conditions spec.md §6 names (no API keys, port bind failure).
func NewDeps(cfg config.Config, env config.EnvSnapshot, dataDir string) (*Deps, error) {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Enabled = cfg.CacheEnabled
	cacheCfg.Mode = cache.Mode(cfg.CacheMode)
	if dataDir != "" {
		cacheCfg.DiskDir = dataDir + "/cache/responses"
		cacheCfg.IndexPath = dataDir + "/cache/index.db"
	}

	budgetCfg := budget.DefaultConfig()
	budgetCfg.Enabled = cfg.BudgetDailyUSD > 0 || cfg.BudgetHourlyUSD > 0
	budgetCfg.DailyUSD = cfg.BudgetDailyUSD
	budgetCfg.HourlyUSD = cfg.BudgetHourlyUSD
	budgetCfg.OnBreach = budget.OnBreachAction(cfg.BudgetOnBreach)
	if dataDir != "" {
		budgetCfg.StorePath = dataDir + "/budget.db"
	}
	budgetMgr := budget.New(budgetCfg)

	alertsCfg := alerts.DefaultConfig()
	alertsCfg.WebhookURL = cfg.AlertWebhookURL
	if dataDir != "" {
		alertsCfg.StorePath = dataDir + "/alerts.db"
	}
	alertMgr := alerts.New(alertsCfg)

	downgradeCfg := downgrade.DefaultConfig()
	downgradeCfg.Enabled = cfg.DowngradeEnabled
	downgradeCfg.TriggerPercent = cfg.DowngradeTriggerPercent

	routerCfg := router.DefaultConfig()
	routerCfg.Mode = router.Mode(cfg.RouterMode)
	routerCfg.Overrides = cfg.ModelOverrides
	if len(cfg.CascadeModels) > 0 {
		routerCfg.CascadeModels = cfg.CascadeModels
	}

	var meshClient mesh.Client = mesh.NoopClient{}
	if cfg.MeshAPIURL != "" {
		credDir := dataDir
		if credDir == "" {
			if d, err := config.Dir(); err == nil {
				credDir = d
			}
		}
		creds, _ := config.LoadCredentials(credDir)
		if creds.RelayPlaneAPIKey != "" {
			meshClient = mesh.NewRESTClient(cfg.MeshAPIURL, creds.RelayPlaneAPIKey)
		}
	}

	memSink := telemetry.NewMemorySink()
	sinks := []telemetry.Sink{memSink}
	if cfg.TelemetryDB != "" {
		sinks = append(sinks, telemetry.NewPostgresMirror(nil))
	}
	var telemetrySink telemetry.Sink = telemetry.MultiSink{Sinks: sinks}

	deps := &Deps{
		Cache:      cache.New(cacheCfg),
		Budget:     budgetMgr,
		Anomaly:    anomaly.New(anomaly.DefaultConfig()),
		Alerts:     alertMgr,
		Downgrade:  downgradeCfg,
		Router:     routerCfg,
		Thresholds: classifier.DefaultThresholds(),
		Cooldown:   cooldown.New(cooldown.DefaultConfig()),
		Upstream:   upstream.NewClient(60*time.Second, cfg.Verbose),
		Mesh:       meshClient,
		Telemetry:  telemetrySink,
		Runs:       memSink,
		Config:     &cfg,
		Env:        env,
		KnownModels: []string{
			"claude-opus-4-6", "claude-sonnet-4-6", "claude-haiku-4-6",
			"claude-opus-4-5", "claude-sonnet-4-5", "claude-haiku-4-5",
			"gpt-5", "gpt-5-mini", "gpt-5-nano",
			"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
			"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite",
		},
		StartedAt: time.Now(),
	}
	deps.PipelineEnabled.Store(true)
	return deps, nil
}

// Shutdown flushes every write-behind subsystem synchronously, mirroring
// spec.md §9's "on shutdown, flush synchronously" rule.
func (d *Deps) Shutdown() {
	d.Budget.Shutdown()
}

func (d *Deps) envAPIKeyFor(providerID string) string {
	envVar, ok := config.ProviderAPIKeyEnvVars[providerID]
	if !ok {
		return ""
	}
	return d.Env[envVar]
}
