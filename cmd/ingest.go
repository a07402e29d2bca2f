package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/babandeep/portfolio-chat/internal/config"
	"github.com/babandeep/portfolio-chat/internal/knowledge"
	"github.com/babandeep/portfolio-chat/internal/llm"
	"github.com/babandeep/portfolio-chat/internal/log"
	"github.com/babandeep/portfolio-chat/internal/rag"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Load portfolio documents into the vector store",
	Long: `Reads a JSON array of portfolio documents ({id, info, description}),
splits each description into chunks, embeds them, and upserts them into
Postgres. Re-running with the same file is safe: chunk IDs are
deterministic, so existing rows are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: slog.LevelInfo})

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	store := knowledge.New(knowledge.NewQuerier(pool), cfg.PostgresURL(), logger.With("component", "store"))
	llmClient := llm.New(llm.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
	})

	indexer := rag.NewIndexer(store, llmClient, logger.With("component", "indexer"))

	res, err := indexer.IngestFile(ctx, path)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %d documents (%d chunks) in %s\n",
		res.DocumentsIngested, res.ChunksInserted, res.Duration.Round(10*time.Millisecond))
	if res.DocumentsFailed > 0 {
		fmt.Printf("Failed: %d documents (see logs)\n", res.DocumentsFailed)
	}
	return nil
}
