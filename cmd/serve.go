package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/babandeep/portfolio-chat/internal/api"
	"github.com/babandeep/portfolio-chat/internal/config"
	"github.com/babandeep/portfolio-chat/internal/knowledge"
	"github.com/babandeep/portfolio-chat/internal/llm"
	"github.com/babandeep/portfolio-chat/internal/log"
	"github.com/babandeep/portfolio-chat/internal/observability"
	"github.com/babandeep/portfolio-chat/internal/prompt"
	"github.com/babandeep/portfolio-chat/internal/rag"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [addr]",
	Short: "Start the HTTP API server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		addr := serveAddr
		if len(args) > 0 {
			addr = args[0]
		}
		return runServe(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port, overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes all collaborators and runs the HTTP server until
// SIGINT/SIGTERM.
func runServe(addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if addr == "" {
		addr = cfg.ListenAddr
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{
		Level: slog.LevelDebug,
		JSON:  cfg.Environment != "dev",
	})
	logger.Info("starting portfolio chat service", "version", AppVersion, "environment", cfg.Environment)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTelEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	store := knowledge.New(knowledge.NewQuerier(pool), cfg.PostgresURL(), logger.With("component", "store"))
	if err := store.EnsureReady(ctx); err != nil {
		return fmt.Errorf("preparing vector store: %w", err)
	}

	llmClient := llm.New(llm.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
	})

	prompts := prompt.New(prompt.Config{
		BaseURL:   cfg.LangfuseBaseURL,
		PublicKey: cfg.LangfusePublicKey,
		SecretKey: cfg.LangfuseSecretKey,
	}, logger.With("component", "prompt"))

	orchestrator, err := rag.New(rag.Config{
		Embedder:       llmClient,
		Retriever:      store,
		PromptRenderer: prompts,
		Generator:      llmClient,
		Logger:         logger.With("component", "rag"),
		TopK:           cfg.RetrievalTopK,
		PromptName:     cfg.PromptName,
		ChatModel:      cfg.ChatModel,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	indexer := rag.NewIndexer(store, llmClient, logger.With("component", "indexer"))

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Answerer:    orchestrator,
		Ingestor:    indexer,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return server.Run(ctx, addr, logger)
}
