// Package main is the entry point for the relay server.
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

	"github.com/capitalize-ai/agent-relay/internal/action"
	"github.com/capitalize-ai/agent-relay/internal/cache"
	"github.com/capitalize-ai/agent-relay/internal/config"
	"github.com/capitalize-ai/agent-relay/internal/handler"
	"github.com/capitalize-ai/agent-relay/internal/knowledge"
	"github.com/capitalize-ai/agent-relay/internal/llm"
	natsclient "github.com/capitalize-ai/agent-relay/internal/nats"
	"github.com/capitalize-ai/agent-relay/internal/service"
	"github.com/capitalize-ai/agent-relay/internal/store"
	"github.com/capitalize-ai/agent-relay/internal/worker"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
	redisclient "github.com/capitalize-ai/agent-relay/pkg/redis"
	"github.com/capitalize-ai/agent-relay/pkg/tracing"
)

// backend is everything the relay needs from the durable store.
type backend interface {
	store.ConnectionRepository
	store.AgentRepository
	store.KnowledgeRepository
	store.ConversationStore
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agent-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer db.Close()

	rdb, err := (&redisclient.Config{
		URL:          cfg.RedisURL,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
		DialTimeout:  cfg.RedisDialTimeout,
	}).New(ctx)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	contextCache := cache.New(rdb, cache.Options{
		MaxTurns:   cfg.ContextMaxTurns,
		ContextTTL: cfg.ContextTTL,
		PendingTTL: cfg.PendingResponseTTL,
	})

	// Turn events are optional; without NATS they are dropped.
	var (
		publisher service.TurnPublisher = natsclient.Nop{}
		events    service.TurnHistory
		checks    = map[string]handler.Pinger{"store": db, "redis": contextCache}
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		turns := natsclient.NewTurnStream(natsClient)
		if err := turns.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure turn stream", zap.Error(err))
		}
		publisher, events = turns, turns
		checks["nats"] = natsClient
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.String("provider", cfg.LLMProvider), zap.Error(err))
	}

	dispatcher := worker.NewDispatcher(cfg.MaxConcurrentTurns, log)

	// Initialize services
	relay := service.NewRelay(service.Deps{
		Connections:   db,
		Agents:        db,
		Conversations: db,
		Cache:         contextCache,
		Knowledge:     knowledge.NewAggregator(db, cfg.KnowledgeDocLimit, cfg.KnowledgeTotalLimit),
		Actions: action.NewEngine(
			action.NewHTTPInvoker(nil, cfg.ActionUserAgent, cfg.ActionTimeout),
			cfg.DefaultTimezone,
			log,
		),
		LLM:       llmClient,
		Publisher: publisher,
		Scheduler: dispatcher,
		Logger:    log,
	}, service.Options{
		DefaultModel:    cfg.DefaultModel,
		DefaultTimezone: cfg.DefaultTimezone,
		ContextMaxTurns: cfg.ContextMaxTurns,
	})
	conversationSvc := service.NewConversationService(db, events, log)

	router := handler.NewRouter(handler.RouterConfig{
		Webhooks:          handler.NewWebhookHandler(relay, log),
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Health:            handler.NewHealthHandler(checks),
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		PollRateRequests:  cfg.PollRateRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	// Acked turns still owe a pending response and a persisted record.
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Error("background turns did not finish", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case "memory":
		mem := store.NewMemory()
		if cfg.SeedFile != "" {
			if err := mem.LoadSeed(cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return mem, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	provider := llm.Provider(cfg.LLMProvider)
	apiKey := cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic {
		apiKey = cfg.AnthropicAPIKey
	}

	client, err := llm.NewClient(provider, apiKey, cfg.OpenAIBaseURL)
	if err != nil {
		return nil, err
	}
	return llm.NewInstrumented(client, cfg.ModelTimeout), nil
}
