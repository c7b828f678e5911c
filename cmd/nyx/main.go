package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/api"
	"github.com/nidhogg/nyx/internal/command"
	"github.com/nidhogg/nyx/internal/config"
	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/embedding"
	"github.com/nidhogg/nyx/internal/extract"
	"github.com/nidhogg/nyx/internal/gateway"
	"github.com/nidhogg/nyx/internal/imagegen"
	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/mood"
	"github.com/nidhogg/nyx/internal/pipeline"
	"github.com/nidhogg/nyx/internal/provider"
	"github.com/nidhogg/nyx/internal/rag"
	msgrouter "github.com/nidhogg/nyx/internal/router"
	"github.com/nidhogg/nyx/internal/store"
	"github.com/nidhogg/nyx/internal/tags"
	"github.com/nidhogg/nyx/internal/vectorstore"
)

func main() {
	config.LoadEnv()

	// Load configuration
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting Nyx...", zap.String("config", cfgPath))

	ctx := context.Background()

	// Model
	model := provider.NewCompletionProvider(cfg.ProviderOptions(), logger)
	if err := model.HealthCheck(ctx); err != nil {
		logger.Warn("completion endpoint not reachable yet", zap.String("endpoint", cfg.Model.Endpoint), zap.Error(err))
	}

	// Memory store
	primary, archive, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Warn("durable memory backend unavailable, using local storage", zap.Error(err))
	}
	mem := memory.Open(ctx, primary, logger)
	if *cfg.Memory.Seed {
		if seeded, err := mem.Seed(ctx, memory.DefaultBaseline); err != nil {
			logger.Warn("seed baseline memories failed", zap.Error(err))
		} else if seeded {
			logger.Info("Seeded baseline character memories")
		}
	}
	pruner := memory.NewPruner(mem, cfg.DecayOptions(), logger)
	pruner.Start()

	scorer := memory.NewScorer(mem, logger)
	tracker := mood.NewTracker(mem, logger)

	// Semantic index
	var index *rag.MemoryIndex
	var vectors *vectorstore.Client
	if cfg.SemanticIndexEnabled() {
		index, vectors = openIndex(ctx, cfg, mem, logger)
	}
	searcher := rag.NewSearcher(index, scorer, logger)

	// Reply cache
	cache, closeCache := openCache(ctx, cfg, logger)

	// Images
	var images *imagegen.Orchestrator
	if cfg.Image.Enabled {
		runware := imagegen.NewRunwareProvider(cfg.RunwareOptions(), logger)
		images = imagegen.NewOrchestrator(runware, cfg.ImageOptions(), logger)
		logger.Info("Image generation enabled", zap.Bool("auto_launch", cfg.Image.AutoLaunch))
	}

	// Memory extraction
	var extractor extract.MemoryExtractor = extract.NewExtractor(mem, logger)
	if cfg.Memory.LLMExtraction {
		extractor = extract.NewLLMExtractor(model, mem, logger)
	}

	persona, err := cfg.PersonaValue()
	if err != nil {
		logger.Fatal("failed to load persona", zap.Error(err))
	}

	deps := pipeline.Deps{
		Persona:   persona,
		Store:     mem,
		Scorer:    scorer,
		Mood:      tracker,
		Model:     model,
		Handlers:  tags.NewDefaultRegistry(mem, logger),
		Extractor: extractor,
		Cache:     cache,
	}
	if images != nil {
		deps.Images = images
	}
	pipe := pipeline.New(deps, pipeline.Config{
		WindowSize:       cfg.Memory.WindowSize,
		MemoryLimit:      cfg.Memory.RecallLimit,
		AutoLaunchImages: cfg.Image.AutoLaunch && images != nil,
	}, logger)

	sessions := conversation.NewManager(archive, cfg.Memory.RestoreLimit, logger)

	// Initialize gateway
	gw := gateway.NewGateway(logger)

	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, tracker, command.StatusFunc(func() []command.AdapterStatus {
		var out []command.AdapterStatus
		for _, s := range gw.StatusAll() {
			out = append(out, command.AdapterStatus{Platform: s.Platform, Connected: s.Connected, Details: s.Details})
		}
		return out
	}))
	command.RegisterMemoryCommands(commands, mem, searcher)

	var watcher msgrouter.ImageWatcher
	if images != nil {
		command.RegisterImageCommand(commands, images)
		watcher = images
	}

	// Wire message router BEFORE registering adapters (Register captures handler)
	msgRouter := msgrouter.New(pipe, sessions, gw, commands, watcher, msgrouter.DefaultConfig(), logger)
	gw.SetHandler(msgRouter.Handle)

	var restAdapter *gateway.RESTAdapter
	if cfg.Gateway.REST.Enabled {
		restAdapter = gateway.NewRESTAdapter(cfg.Gateway.REST.Timeout.D(), logger)
		gw.Register(restAdapter)
	}

	gwPersona := cfg.GatewayPersona()
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, gwPersona, logger))
	}

	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		discordAdapter := gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, gwPersona, logger)
		for channelID, url := range cfg.Gateway.Discord.Webhooks {
			discordAdapter.SetWebhook(channelID, url)
		}
		gw.Register(discordAdapter)
	}

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// Build HTTP handler
	apiDeps := api.Deps{
		Chat:     pipe,
		Sessions: sessions,
		Store:    mem,
		Mood:     tracker,
		Search:   searcher,
		Pruner:   pruner,
		Gateway:  gw,
		REST:     restAdapter,
	}
	if images != nil {
		apiDeps.Images = images
	}
	handler := api.NewHandler(apiDeps, cfg.Server.CORSOrigins, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Nyx listening", zap.String("port", port), zap.String("memory_backend", mem.BackendName()))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Nyx...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	gw.Close()
	msgRouter.Close()
	if images != nil {
		images.Close()
	}
	pruner.Stop()
	closeCache()
	if vectors != nil {
		vectors.Close()
	}
	mem.Close(shutdownCtx)
}

func newLogger(level string) *zap.Logger {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// transcriptBackend is a durable memory backend that also archives sessions.
type transcriptBackend interface {
	memory.Backend
	conversation.Archive
}

// openBackend resolves the configured durable backend. A nil backend means
// the local store; archive is set when the backend can keep transcripts.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memory.Backend, conversation.Archive, error) {
	var tb transcriptBackend
	switch cfg.Memory.Backend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		tb = pg
	case "sqlite":
		lite, err := store.NewSQLite(cfg.Memory.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		tb = lite
	case "neo4j":
		graph, err := memory.NewNeo4jBackend(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open neo4j: %w", err)
		}
		return graph, nil, nil
	default:
		return nil, nil, nil
	}
	return tb, tb, nil
}

func openIndex(ctx context.Context, cfg *config.Config, mem *memory.Store, logger *zap.Logger) (*rag.MemoryIndex, *vectorstore.Client) {
	embedder, err := embedding.New(cfg.EmbeddingOptions(), logger)
	if err != nil {
		logger.Warn("embedding provider unavailable, using keyword search", zap.Error(err))
		return nil, nil
	}
	qcfg := cfg.QdrantOptions()
	vectors, err := vectorstore.NewClient(qcfg, logger)
	if err != nil {
		logger.Warn("Qdrant unavailable, using keyword search", zap.Error(err))
		return nil, nil
	}
	index := rag.NewMemoryIndex(embedder, vectors, mem, qcfg.Collection, logger)
	if err := index.Init(ctx); err != nil {
		logger.Warn("memory index init failed, using keyword search", zap.Error(err))
		vectors.Close()
		return nil, nil
	}
	mem.SetIndexer(index)
	logger.Info("Semantic memory index ready", zap.String("collection", qcfg.Collection))
	return index, vectors
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pipeline.Cache, func()) {
	ttl := cfg.Cache.TTL.D()
	if cfg.Cache.Backend == "redis" {
		rc, err := pipeline.NewRedisCache(ctx, cfg.Database.Redis.URL, ttl, logger)
		if err == nil {
			return rc, func() { rc.Close() }
		}
		logger.Warn("Redis unavailable, caching replies in memory", zap.Error(err))
	}
	return pipeline.NewMemoryCache(ttl), func() {}
}
