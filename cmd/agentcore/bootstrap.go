package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agentrt"
	"github.com/haasonsaas/agentcore/internal/capability"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/ctxmgr"
	"github.com/haasonsaas/agentcore/internal/delegate"
	"github.com/haasonsaas/agentcore/internal/jobqueue"
	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/internal/loopdetect"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/questiongate"
	"github.com/haasonsaas/agentcore/internal/scheduler"
	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// components bundles every concrete adapter the CLI's subcommands need,
// wired once from a loaded Config. Assembly happens here rather than inside
// any one package so serve/doctor/schedule/jobs can each use the subset
// they need without duplicating the wiring.
type components struct {
	cfg       *config.Config
	store     store.Store
	llmRouter *llm.Router
	toolReg   *tools.Registry
	capRouter *capability.Router
	ctxMgr    *ctxmgr.Manager
	gate      *questiongate.Gate
	runtime   *agentrt.Runtime
	queue     *jobqueue.Queue
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// buildComponents wires every component named in §6's module list from cfg.
// Subcommands that don't need the full stack (e.g. "doctor") may ignore the
// fields they don't use; nothing here is lazily constructed since the whole
// point of the doctor command is to surface wiring failures eagerly.
func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	var st store.Store
	switch strings.ToLower(cfg.Store.Backend) {
	case "memory":
		st = store.NewMemoryStore()
	case "sqlite":
		sq, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		st = sq
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	llmRouter, err := buildLLMRouter(cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm router: %w", err)
	}

	toolReg := tools.NewRegistry(cfg.Tools.DefaultTimeout)
	if err := registerBuiltinTools(toolReg, cfg); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	routerClient, routerModel, ok := llmRouter.For(models.TierRouter)
	if !ok {
		return nil, fmt.Errorf("llm.tiers.router is required")
	}
	capRouter := capability.NewRouter(capability.NewCatalogue(), capability.Config{
		RouterStride: cfg.Capability.RouterStride,
		DefaultTTL:   cfg.Capability.DefaultTTL,
	}, routerClient, routerModel)

	cheapClient, cheapModel, ok := llmRouter.For(models.TierCheap)
	var summarizer ctxmgr.Summarizer
	if ok {
		summarizer = &ctxmgr.LLMSummarizer{Client: cheapClient, Model: cheapModel}
	}
	ctxCfg := ctxmgr.DefaultConfig()
	ctxCfg.MaxTokens = cfg.Context.MaxTokens
	ctxCfg.KeepRecentExchanges = cfg.Context.RetainedExchanges
	ctxMgr := ctxmgr.New(ctxCfg, summarizer, nil)

	gate := questiongate.New()
	metrics := observability.NewMetrics()

	rt := agentrt.New(agentrt.Config{
		MaxSteps:            cfg.Agent.MaxSteps,
		MaxWall:             cfg.Agent.MaxWall,
		SystemPrompt:        cfg.Agent.SystemPrompt,
		DelegateConcurrency: cfg.Delegate.Concurrency,
		LoopDetect: loopdetect.Config{
			WindowSize:      cfg.LoopDetect.WindowSize,
			RepeatThreshold: cfg.LoopDetect.RepeatThreshold,
			StallThreshold:  cfg.LoopDetect.StallThreshold,
		},
	}, st, llmRouter, toolReg, capRouter, ctxMgr, gate, metrics, logger)

	quota := delegate.NewQuota(cfg.Delegate.Quota)
	delegateEx := delegate.New(rt, quota, cfg.Delegate.Concurrency)
	rt.SetDelegate(delegateEx)

	queue := jobqueue.New(jobqueue.Config{
		PollInterval:      cfg.Queue.PollInterval,
		MaxConcurrentJobs: cfg.Queue.MaxConcurrentJobs,
	}, st, rt, metrics, logger)

	sched := scheduler.New(scheduler.Config{TickInterval: cfg.Scheduler.TickInterval},
		st, &jobTrigger{st: st, queue: queue}, metrics, logger)

	return &components{
		cfg:       cfg,
		store:     st,
		llmRouter: llmRouter,
		toolReg:   toolReg,
		capRouter: capRouter,
		ctxMgr:    ctxMgr,
		gate:      gate,
		runtime:   rt,
		queue:     queue,
		scheduler: sched,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// buildLLMRouter constructs one Client per configured provider and binds
// each tier to the client its config names.
func buildLLMRouter(cfg *config.Config) (*llm.Router, error) {
	clients := map[string]llm.Client{}
	for name, pc := range cfg.LLM.Providers {
		client, err := buildLLMClient(name, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		clients[name] = client
	}

	tierClients := map[models.ModelTier]llm.Client{}
	tierModels := map[models.ModelTier]string{}
	for tier, tc := range cfg.LLM.Tiers {
		client, ok := clients[tc.Provider]
		if !ok {
			return nil, fmt.Errorf("tier %q references unconfigured provider %q", tier, tc.Provider)
		}
		tierClients[models.ModelTier(tier)] = client
		tierModels[models.ModelTier(tier)] = tc.Model
	}
	return llm.NewRouter(tierClients, tierModels), nil
}

func buildLLMClient(name string, pc config.LLMProviderConfig) (llm.Client, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL})
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL})
	case "gemini":
		return llm.NewGeminiClient(context.Background(), llm.GeminiConfig{APIKey: pc.APIKey})
	case "bedrock":
		return llm.NewBedrockClient(context.Background(), llm.BedrockConfig{Region: pc.Region})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

// jobTrigger implements scheduler.Trigger by enqueuing a job on the
// schedule's conversation and waking the queue, mirroring what the HTTP
// API's /chat handler does for a user-submitted message.
type jobTrigger struct {
	st    store.Store
	queue *jobqueue.Queue
}

func (t *jobTrigger) Fire(ctx context.Context, sc models.Schedule) error {
	if _, err := t.st.CreateJob(ctx, sc.ConversationID, sc.Prompt); err != nil {
		return err
	}
	t.queue.Wake()
	return nil
}
