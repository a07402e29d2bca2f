// Package knowledge implements the portfolio vector store on PostgreSQL
// with pgvector. It owns schema provisioning, chunk upserts, and
// nearest-neighbor retrieval for the RAG pipeline.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/babandeep/portfolio-chat/db"
)

// searchTimeout caps vector search queries so a slow index scan cannot
// hold a chat request open indefinitely.
const searchTimeout = 10 * time.Second

var (
	// ErrBadDimension indicates an embedding whose length does not match
	// the vector column.
	ErrBadDimension = errors.New("embedding dimension mismatch")

	// ErrBadLimit indicates a non-positive search limit.
	ErrBadLimit = errors.New("search limit must be positive")
)

// Querier defines the database operations Store needs. The interface is
// defined here, by the consumer, so tests can substitute a fake
// (similar to http.RoundTripper, sql.Driver).
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error)
	CountDocuments(ctx context.Context) (int64, error)
}

// Store manages portfolio documents with vector search.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	queries Querier
	connURL string
	logger  *slog.Logger
}

// New creates a Store. connURL is only used by EnsureReady for schema
// migrations; pass "" if provisioning is handled elsewhere.
func New(querier Querier, connURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, connURL: connURL, logger: logger}
}

// EnsureReady provisions the portfolio collection (extension, table,
// indexes) by running embedded migrations. Idempotent: an up-to-date
// schema is success, not an error.
func (s *Store) EnsureReady(_ context.Context) error {
	if s.connURL == "" {
		return errors.New("store has no connection URL for provisioning")
	}
	if err := db.Migrate(s.connURL); err != nil {
		return fmt.Errorf("provisioning portfolio collection: %w", err)
	}
	return nil
}

// Insert upserts a document chunk. Re-ingesting the same chunk ID
// replaces its content and embedding.
func (s *Store) Insert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document ID must not be empty")
	}
	if len(doc.Embedding) != VectorDimension {
		return fmt.Errorf("%w: got %d, want %d", ErrBadDimension, len(doc.Embedding), VectorDimension)
	}

	embedding := pgvector.NewVector(doc.Embedding)
	err := s.queries.UpsertDocument(ctx, UpsertDocumentParams{
		ID:          doc.ID,
		SourceID:    doc.SourceID,
		Info:        doc.Info,
		Description: doc.Description,
		Embedding:   &embedding,
		CreatedAt: pgtype.Timestamptz{
			Time:  doc.CreatedAt,
			Valid: !doc.CreatedAt.IsZero(),
		},
	})
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("inserted document", "id", doc.ID, "source", doc.SourceID, "chars", len(doc.Description))
	return nil
}

// Search returns the limit nearest documents to the given embedding,
// ordered by cosine similarity. Zero results is valid — the caller
// decides what an empty context means.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadLimit, limit)
	}
	if len(embedding) != VectorDimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadDimension, len(embedding), VectorDimension)
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	queryEmbedding := pgvector.NewVector(embedding)
	rows, err := s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
		QueryEmbedding: &queryEmbedding,
		ResultLimit:    int32(limit),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var createdAt time.Time
		if row.CreatedAt.Valid {
			createdAt = row.CreatedAt.Time
		}
		results = append(results, Result{
			Document: Document{
				ID:          row.ID,
				SourceID:    row.SourceID,
				Info:        row.Info,
				Description: row.Description,
				CreatedAt:   createdAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.queries.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}
