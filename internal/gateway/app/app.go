// Package app wires configuration, collaborators and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"imagin3d/internal/agent"
	"imagin3d/internal/cache/disk"
	"imagin3d/internal/checkpoint"
	"imagin3d/internal/confirmation"
	"imagin3d/internal/embedding"
	"imagin3d/internal/gateway/config"
	"imagin3d/internal/gateway/handler"
	"imagin3d/internal/gateway/server"
	"imagin3d/internal/keyframe"
	"imagin3d/internal/llm"
	"imagin3d/internal/logging"
	"imagin3d/internal/media"
	"imagin3d/internal/pipeline"
	"imagin3d/internal/render"
)

const fakeRouteWeight = 80

type App struct {
	server  *server.Server
	closers []io.Closer
	agents  []agent.Metered
	log     *slog.Logger
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	log := logging.New("app")
	a := &App{log: log}

	repo, repoCloser, err := chooseCheckpointRepo(cfg, log)
	if err != nil {
		return nil, err
	}
	if repoCloser != nil {
		a.closers = append(a.closers, repoCloser)
	}
	checkpoints := checkpoint.New(repo, checkpoint.Options{IsolateRuns: cfg.Checkpoint.IsolateRuns})

	base, embedder, err := newModelClients(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mws := []llm.Middleware{
		llm.WithLogging(logging.New("llm")),
		llm.Retry(cfg.LLM.MaxAttempts, 500*time.Millisecond),
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
	}
	if cfg.LLM.CacheDir != "" {
		answers, err := disk.Open(disk.Config{Dir: cfg.LLM.CacheDir, TTL: cfg.LLM.CacheTTL})
		if err != nil {
			return nil, fmt.Errorf("failed to open llm cache: %w", err)
		}
		mws = append([]llm.Middleware{llm.Cache(answers, logging.New("llm"), llm.PhaseDescriptor, llm.PhaseClusterer)}, mws...)
		log.Info("llm answer cache enabled", "dir", cfg.LLM.CacheDir, "ttl", cfg.LLM.CacheTTL)
	}
	client := llm.Wrap(base, mws...)
	a.closers = append(a.closers, client)
	log.Info("llm client ready", "name", client.Name())

	cached, err := embedding.NewCached(embedder, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	var engine render.Engine
	engine, err = render.New(cfg.Engine)
	if err != nil {
		log.Warn("render engine unavailable, model elements will fail", "err", err)
		engine = render.Unavailable{Reason: err}
	}

	ffmpeg := media.FFmpeg{Path: cfg.FFmpegPath}
	if err := ffmpeg.Available(); err != nil {
		log.Warn("ffmpeg unavailable, video elements will fail", "err", err)
	}
	keyFrames := media.KeyFrameExtractor{
		FFmpeg:   ffmpeg,
		Selector: keyframe.Selector{Logger: logging.New("keyframe")},
		Count:    cfg.KeyFrameCount,
		Logger:   logging.New("media"),
	}

	describer := agent.NewDescriptor(client, logging.New("descriptor"))
	clusterer := agent.NewClusterer(client, logging.New("clusterer"))
	router := agent.NewIntentRouter(client, logging.New("router"))
	synth := agent.NewSynthesizer(client, logging.New("synthesizer"))
	a.agents = []agent.Metered{describer, clusterer, router, synth}

	pipeLog := logging.New("pipeline")
	coord, err := pipeline.NewCoordinator(pipeline.Config{
		Enricher: pipeline.Enricher{
			Handlers: pipeline.DefaultHandlers(pipeline.HandlerDeps{
				Describer: describer,
				Renderer:  engine,
				KeyFrames: keyFrames,
				Logger:    pipeLog,
			}),
			Embedder: cached,
		},
		Clusterer:        clusterer,
		Router:           router,
		Synthesizer:      synth,
		Checkpoints:      checkpoints,
		Gate:             confirmation.NewGate(cfg.ConfirmationTimeout),
		StageConcurrency: cfg.StageConcurrency,
		Logger:           pipeLog,
	})
	if err != nil {
		return nil, err
	}

	h := handler.New(coord, logging.New("http"), cfg.AllowedOrigins, handler.WithAgentUsage(a.agentUsage))
	a.server = server.New(cfg.Port, server.NewMux(h, cfg.AllowedOrigins), logging.New("server"))
	log.Info("gateway configured",
		"env", cfg.Env, "llm", cfg.LLM.Provider, "embedding", cfg.Embedding.Provider,
		"checkpoints", cfg.Checkpoint.Backend, "isolate_runs", cfg.Checkpoint.IsolateRuns,
		"engine", engine.Name())
	return a, nil
}

// newModelClients returns the LLM client and the embedder for the
// configured providers. Gemini and OpenAI embedders share the SDK client of
// the LLM when both use the same provider.
func newModelClients(ctx context.Context, cfg *config.Config) (llm.LLMClient, embedding.Embedder, error) {
	var (
		client    llm.LLMClient
		geminiLLM *llm.GeminiClient
		openaiLLM *llm.OpenAIClient
	)
	switch cfg.LLM.Provider {
	case "gemini":
		g, err := llm.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize gemini client: %w", err)
		}
		client, geminiLLM = g, g
	case "openai":
		o, err := llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize openai client: %w", err)
		}
		client, openaiLLM = o, o
	default:
		client = llm.NewFakeClient(fakeRouteWeight)
	}

	var (
		embedder embedding.Embedder
		err      error
	)
	switch cfg.Embedding.Provider {
	case "gemini":
		if geminiLLM == nil {
			if geminiLLM, err = llm.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey, ""); err != nil {
				return nil, nil, fmt.Errorf("failed to initialize gemini embedder: %w", err)
			}
		}
		embedder, err = embedding.NewGeminiEmbedder(geminiLLM.Client(), cfg.Embedding.Model)
	case "openai":
		if openaiLLM == nil {
			if openaiLLM, err = llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, ""); err != nil {
				return nil, nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
			}
		}
		embedder, err = embedding.NewOpenAIEmbedder(openaiLLM.Client(), cfg.Embedding.Model)
	default:
		embedder = embedding.HashEmbedder{}
	}
	if err != nil {
		return nil, nil, err
	}
	return client, embedder, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) agentUsage() map[string]agent.Usage {
	return agent.UsageByPhase(a.agents...)
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	for phase, u := range a.agentUsage() {
		a.log.Info("agent usage", "agent", phase, "calls", u.Calls, "errors", u.Errors, "elapsed", u.Elapsed)
	}
	for _, c := range a.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
