package cmd

import (
	"net/http"
	"strings"

	"github.com/samsaffron/skillshub/internal/config"
	"github.com/samsaffron/skillshub/internal/llm"
	"github.com/samsaffron/skillshub/internal/tools"
)

// runOptions are the per-request choices layered over configuration.
type runOptions struct {
	Provider      string
	Overrides     config.ProviderOverrides
	SystemPrompt  string
	Permissions   tools.Permissions
	Workspace     string
	MaxIterations int
}

// hubRuntime builds a fresh provider, executor and engine for every
// request. Only the registry and the HTTP client are shared.
type hubRuntime struct {
	cfg        *config.Config
	registry   *tools.Registry
	httpClient *http.Client
}

func newHubRuntime(cfg *config.Config) *hubRuntime {
	return &hubRuntime{
		cfg:        cfg,
		registry:   tools.DefaultRegistry(),
		httpClient: &http.Client{},
	}
}

// prepare validates opts and returns an engine plus the first request.
// Configuration errors surface here, before any network call.
func (h *hubRuntime) prepare(opts runOptions, messages []llm.Message) (*llm.Engine, llm.Request, error) {
	providerCfg := h.cfg.ResolveProvider(opts.Provider, opts.Overrides)
	providerCfg.HTTPClient = h.httpClient
	provider, err := llm.NewProvider(providerCfg)
	if err != nil {
		return nil, llm.Request{}, err
	}

	executor, err := h.newExecutor(opts)
	if err != nil {
		return nil, llm.Request{}, err
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = h.cfg.Orchestrator.MaxIterations
	}
	engine := llm.NewEngine(provider, executor, llm.EngineOptions{MaxIterations: maxIterations})

	req := llm.Request{
		Model:    providerCfg.Model,
		System:   firstNonBlank(opts.SystemPrompt, h.cfg.SystemPrompt),
		Messages: messages,
	}
	if llm.SupportsTools(opts.Provider) {
		req.Tools = h.registry.ListTools(opts.Permissions)
	}
	return engine, req, nil
}

func (h *hubRuntime) newExecutor(opts runOptions) (*tools.Executor, error) {
	mode, err := tools.ParseCreateFileMode(h.cfg.Tools.CreateFileMode)
	if err != nil {
		return nil, err
	}
	return tools.NewExecutor(h.registry, tools.ExecutorOptions{
		Workspace:      firstNonBlank(opts.Workspace, h.cfg.Server.Workspace),
		Permissions:    opts.Permissions,
		CreateFileMode: mode,
		Deny:           h.cfg.Tools.Deny,
	})
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
