package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/babandeep/portfolio-chat/internal/knowledge"
)

// embedPacing throttles embedding calls during batch ingestion so a
// large corpus does not trip the embeddings API quota.
var embedPacing = rate.Every(250 * time.Millisecond)

// SourceDocument is one portfolio entry to ingest, as found in the
// source JSON file.
type SourceDocument struct {
	ID          string `json:"id"`
	Info        string `json:"info"`
	Description string `json:"description"`
}

// IndexerStore is the slice of store behavior the indexer needs.
type IndexerStore interface {
	EnsureReady(ctx context.Context) error
	Insert(ctx context.Context, doc knowledge.Document) error
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	DocumentsIngested int           `json:"documents_ingested"`
	DocumentsFailed   int           `json:"documents_failed"`
	ChunksInserted    int           `json:"chunks_inserted"`
	Duration          time.Duration `json:"-"`
}

// Indexer runs the one-shot ingestion batch: split each source document
// into chunks, embed each chunk, and upsert it into the vector store.
// It is not part of request-time behavior.
type Indexer struct {
	store    IndexerStore
	embedder Embedder
	splitter *Splitter
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewIndexer creates an Indexer with default chunking and pacing.
func NewIndexer(store IndexerStore, embedder Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
		limiter:  rate.NewLimiter(embedPacing, 1),
		logger:   logger,
	}
}

// Ingest provisions the collection and ingests all documents.
//
// A failure on one document is logged and counted but does not stop the
// batch; chunk IDs are deterministic ("{sourceID}-{n}") so re-running
// the batch upserts rather than duplicates.
func (ix *Indexer) Ingest(ctx context.Context, docs []SourceDocument) (IngestResult, error) {
	start := time.Now()

	if err := ix.store.EnsureReady(ctx); err != nil {
		return IngestResult{}, err
	}

	var res IngestResult
	for _, doc := range docs {
		if doc.ID == "" {
			ix.logger.Warn("skipping source document without ID", "info", doc.Info)
			res.DocumentsFailed++
			continue
		}
		inserted, err := ix.ingestOne(ctx, doc)
		res.ChunksInserted += inserted
		if err != nil {
			if ctx.Err() != nil {
				res.Duration = time.Since(start)
				return res, fmt.Errorf("ingestion canceled: %w", ctx.Err())
			}
			ix.logger.Warn("failed to ingest document", "id", doc.ID, "error", err)
			res.DocumentsFailed++
			continue
		}
		res.DocumentsIngested++
	}

	res.Duration = time.Since(start)
	ix.logger.Info("ingestion complete",
		"documents", res.DocumentsIngested,
		"failed", res.DocumentsFailed,
		"chunks", res.ChunksInserted,
		"duration", res.Duration,
	)
	return res, nil
}

func (ix *Indexer) ingestOne(ctx context.Context, doc SourceDocument) (int, error) {
	chunks := ix.splitter.Split(doc.Description)
	inserted := 0
	for i, chunk := range chunks {
		if err := ix.limiter.Wait(ctx); err != nil {
			return inserted, fmt.Errorf("pacing embeddings: %w", err)
		}
		embedding, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			return inserted, fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		err = ix.store.Insert(ctx, knowledge.Document{
			ID:          fmt.Sprintf("%s-%d", doc.ID, i),
			SourceID:    doc.ID,
			Info:        doc.Info,
			Description: chunk,
			Embedding:   embedding,
		})
		if err != nil {
			return inserted, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
		inserted++
	}
	return inserted, nil
}

// IngestFile reads a JSON array of source documents from path and
// ingests them.
func (ix *Indexer) IngestFile(ctx context.Context, path string) (IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{}, fmt.Errorf("reading source data: %w", err)
	}
	var docs []SourceDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return IngestResult{}, fmt.Errorf("parsing source data: %w", err)
	}
	return ix.Ingest(ctx, docs)
}
