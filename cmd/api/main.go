// Package main is the entry point for the reference query backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/config"
	"github.com/capitalize-ai/repochat/internal/handler"
	"github.com/capitalize-ai/repochat/internal/llm"
	natsclient "github.com/capitalize-ai/repochat/internal/nats"
	"github.com/capitalize-ai/repochat/internal/service"
	"github.com/capitalize-ai/repochat/pkg/logger"
	"github.com/capitalize-ai/repochat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting query backend", zap.String("history_store", cfg.HistoryStore), zap.String("llm", cfg.DefaultLLM))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "repochat-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open history store", zap.Error(err))
	}
	defer closeStore()

	catalog, err := service.ParseCatalog(cfg.ProcessedRepos)
	if err != nil {
		log.Fatal("invalid processed repository list", zap.Error(err))
	}

	llmClient, err := newLLM(cfg)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.Error(err))
	}

	// Initialize services
	conversationSvc := service.NewConversationService(store, catalog, log)
	querySvc := service.NewQueryService(conversationSvc, store, catalog, llmClient, log)

	r := handler.NewRouter(handler.RouterConfig{
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Health:            handler.NewHealthHandler(store),
		Queries:           handler.NewQueryHandler(querySvc, log),
		History:           handler.NewHistoryHandler(conversationSvc, log),
		Repositories:      handler.NewRepositoryHandler(catalog),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// openStore selects the history backend named by the config.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (service.Store, func(), error) {
	switch cfg.HistoryStore {
	case "", "memory":
		return service.NewMemoryStore(), func() {}, nil
	case "nats":
		nc, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := natsclient.NewHistoryStore(ctx, nc)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown history store %q", cfg.HistoryStore)
	}
}

func newLLM(cfg *config.Config) (llm.Client, error) {
	provider := llm.Provider(cfg.DefaultLLM)
	switch provider {
	case llm.ProviderAnthropic:
		return llm.NewClient(provider, cfg.AnthropicAPIKey)
	case llm.ProviderOpenAI:
		return llm.NewClient(provider, cfg.OpenAIAPIKey)
	default:
		return llm.NewClient(provider, "")
	}
}
