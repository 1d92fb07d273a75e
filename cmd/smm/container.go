package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"smmswarm/internal/agents"
	"smmswarm/internal/chat"
	"smmswarm/internal/config"
	"smmswarm/internal/images"
	"smmswarm/internal/llm"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
	"smmswarm/internal/orchestrator"
	"smmswarm/internal/qc"
	"smmswarm/internal/session"
)

// Container holds the wired services shared by every command.
type Container struct {
	Config   config.Config
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *observability.TracerProvider
	Gateway  *llm.Gateway
	Agents   *agents.Registry
	Models   orchestrator.Models
	Sessions session.Store
	Images   *images.Pipeline
	Service  *orchestrator.Service
	Pipeline *orchestrator.Pipeline
	Chat     *chat.Service
}

func buildContainer(ctx context.Context, cfg config.Config) (*Container, error) {
	logger := logging.NewComponentLogger("container")
	c := &Container{Config: cfg}

	if cfg.Observability.Metrics.Enabled {
		c.Metrics = observability.DefaultMetrics()
		c.Gatherer = prometheus.DefaultGatherer
	}
	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	c.Tracer = tracer

	var backend llm.TextBackend
	switch cfg.LLM.Provider {
	case "ollama":
		backend = llm.NewOllama(cfg.LLM)
	default:
		backend = llm.NewOpenAIResponses(cfg.LLM)
	}
	backend = llm.WrapWithUserRateLimit(backend, rate.Limit(cfg.LLM.UserRateLimitRPS), cfg.LLM.UserRateLimitBurst)
	gatewayOpts := []llm.GatewayOption{llm.WithMetrics(c.Metrics), llm.WithTracer(tracer)}
	c.Gateway = llm.NewGateway(backend, cfg.LLM, gatewayOpts...)

	c.Models = orchestrator.Models{Light: cfg.LLM.LightModel, Hard: cfg.LLM.HardModel}
	c.Agents = agents.DefaultRegistry(c.Gateway, cfg.LLM.LightModel)

	c.Sessions, err = session.NewStore(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}

	serviceOpts := []orchestrator.Option{
		orchestrator.WithMaxQuestions(cfg.Session.MaxQuestions),
		orchestrator.WithMetrics(c.Metrics),
		orchestrator.WithTracer(tracer),
	}
	if cfg.LLM.ImageModel != "" {
		store, err := images.NewStore(ctx, cfg.Images)
		if err != nil {
			return nil, err
		}
		imageGateway := llm.NewImageGateway(llm.NewOpenAIImages(cfg.LLM), cfg.LLM, gatewayOpts...)
		c.Images = images.NewPipeline(
			agents.NewImageBriefAgent(c.Gateway, cfg.LLM.LightModel),
			images.NewBackgroundCache(imageGateway, cfg.Images.CacheSize, c.Metrics),
			store,
			images.WithMaxVariants(cfg.Images.MaxVariants),
			images.WithMetrics(c.Metrics),
			images.WithTracer(tracer),
		)
		serviceOpts = append(serviceOpts, orchestrator.WithImages(c.Images))
	} else {
		logger.Info("Image generation disabled: no image model configured")
	}

	c.Service = orchestrator.NewService(c.Gateway, c.Agents, c.Sessions, c.Models, serviceOpts...)
	c.Pipeline = orchestrator.NewPipeline(c.Agents, qc.NewCritic(c.Gateway, c.Models.Light), c.Models,
		orchestrator.WithPipelineMetrics(c.Metrics),
		orchestrator.WithPipelineTracer(tracer),
	)

	chatOpts := []chat.Option{
		chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
		chat.WithScopeGuard(chat.NewScopeGuard(c.Gateway, c.Models.Light, cfg.Chat.ScopeClassifier)),
		chat.WithMetrics(c.Metrics),
		chat.WithTracer(tracer),
	}
	if cfg.Chat.Shorten {
		chatOpts = append(chatOpts, chat.WithShortener(qc.NewShortener(c.Gateway, c.Models.Light)))
	}
	c.Chat = chat.NewService(c.Gateway, c.Sessions, c.Models.Light, chatOpts...)
	return c, nil
}

// Cleanup flushes spans and closes the session backend.
func (c *Container) Cleanup(ctx context.Context) error {
	var firstErr error
	if closer, ok := c.Sessions.(io.Closer); ok {
		firstErr = closer.Close()
	}
	if err := c.Tracer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
