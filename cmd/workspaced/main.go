// Package main is the entry point for the workspace daemon: the NATS command
// service backed by JetStream and an LLM provider, plus its HTTP gateway.
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

	"github.com/capitalize-ai/chat-workspace/internal/config"
	"github.com/capitalize-ai/chat-workspace/internal/handler"
	"github.com/capitalize-ai/chat-workspace/internal/llm"
	natsclient "github.com/capitalize-ai/chat-workspace/internal/nats"
	"github.com/capitalize-ai/chat-workspace/internal/service"
	"github.com/capitalize-ai/chat-workspace/pkg/logger"
	"github.com/capitalize-ai/chat-workspace/pkg/tracing"
)

const statsInterval = 30 * time.Second

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("workspaced exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Environment == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting workspace daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "workspaced", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "workspaced",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsClient.Close()

	backend, err := service.Open(ctx, natsClient, newLLMClient(cfg, log), log, service.MessageOptions{
		DefaultModel:    cfg.DefaultModel,
		ContextMessages: cfg.ContextMessages,
		StreamTimeout:   cfg.StreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}

	commandServer := natsclient.NewCommandServer(natsClient, backend, cfg.CommandTimeout)
	if err := commandServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start command server: %w", err)
	}

	go recordStats(ctx, natsclient.NewStreamManager(natsClient), log)

	// The gateway goes through NATS like any other client, so it reaches
	// whichever daemon replica answers the queue group.
	router := handler.NewRouter(
		natsclient.NewTransport(natsClient, cfg.CommandTimeout),
		natsClient,
		log,
		handler.RouterOptions{
			JWTSecret:         cfg.JWTSecret,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		},
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		commandServer.Stop()
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	commandServer.Stop()
	backend.Messages.Wait()

	log.Info("daemon stopped")
	return nil
}

// newLLMClient prefers the configured provider and falls back to whichever
// provider has a key. It returns nil when no provider is usable.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	keys := map[llm.Provider]string{
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
	}
	order := []llm.Provider{llm.Provider(cfg.DefaultLLM), llm.ProviderOpenAI, llm.ProviderAnthropic}

	for _, provider := range order {
		key := keys[provider]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(provider, key)
		if err != nil {
			log.Warn("failed to create LLM client", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		log.Info("LLM provider configured", zap.String("provider", string(provider)))
		return client
	}

	log.Warn("no LLM provider configured, chat commands disabled")
	return nil
}

func recordStats(ctx context.Context, streamManager *natsclient.StreamManager, log *logger.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := streamManager.RecordStats(ctx); err != nil {
				log.Debug("failed to record stream stats", zap.Error(err))
			}
		}
	}
}
