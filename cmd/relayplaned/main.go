package main

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/RelayPlane/proxy/internal/config"
	"github.com/RelayPlane/proxy/internal/pipeline"
	"github.com/RelayPlane/proxy/internal/server"
	"github.com/RelayPlane/proxy/internal/version"
)

func main() {
	log.Printf("relayplaned %s (commit %s, built %s)", version.Version, version.Commit, version.BuildTime)
	env := config.ReadEnv()

	if !env.HasAnyProviderAPIKey() {
		log.Printf("🛑 relayplaned: no provider API key set (checked ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, XAI_API_KEY, OPENROUTER_API_KEY, DEEPSEEK_API_KEY, GROQ_API_KEY, MOONSHOT_API_KEY)")
		os.Exit(1)
	}

	configPath, err := config.ConfigPath()
	if err != nil {
		log.Printf("🛑 relayplaned: cannot resolve config path: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("🛑 relayplaned: failed to load config: %v", err)
		os.Exit(1)
	}
	if v, ok := env["RELAYPLANE_VERBOSE"]; ok && v != "" && v != "0" && v != "false" {
		cfg.Verbose = true
	}

	dataDir, err := config.Dir()
	if err != nil {
		log.Printf("🛑 relayplaned: cannot resolve data directory: %v", err)
		os.Exit(1)
	}

	deps, err := pipeline.NewDeps(cfg, env, dataDir)
	if err != nil {
		log.Printf("🛑 relayplaned: failed to initialize: %v", err)
		os.Exit(1)
	}
	defer deps.Shutdown()

	orchestrator := pipeline.NewOrchestrator(deps)
	handler := server.New(orchestrator, deps)

	host := cfg.ProxyHost
	if v := env["RELAYPLANE_PROXY_HOST"]; v != "" {
		host = v
	}
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.ProxyPort
	if v := env["RELAYPLANE_PROXY_PORT"]; v != "" {
		if p, perr := strconv.Atoi(v); perr == nil {
			port = p
		}
	}
	if port == 0 {
		port = 4100
	}

	addr := host + ":" + strconv.Itoa(port)
	log.Printf("🚀 RelayPlane proxy starting on http://%s", addr)
	log.Printf("🔌 Anthropic API: http://%s/v1/messages", addr)
	log.Printf("🔌 OpenAI API: http://%s/v1/chat/completions", addr)

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Printf("🛑 relayplaned: server failed: %v", err)
		os.Exit(1)
	}
}
