package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the subset of pgx pool/connection behavior the queries need.
// *pgxpool.Pool, *pgx.Conn, and pgx.Tx all satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertDocumentParams carries one chunk to write.
type UpsertDocumentParams struct {
	ID          string
	SourceID    string
	Info        string
	Description string
	Embedding   *pgvector.Vector
	CreatedAt   pgtype.Timestamptz
}

// SearchDocumentsParams carries one nearest-neighbor query.
type SearchDocumentsParams struct {
	QueryEmbedding *pgvector.Vector
	ResultLimit    int32
}

// SearchDocumentsRow is one search hit as it comes back from Postgres.
type SearchDocumentsRow struct {
	ID          string
	SourceID    string
	Info        string
	Description string
	CreatedAt   pgtype.Timestamptz
	Similarity  float64
}

const upsertDocumentSQL = `
INSERT INTO portfolio_documents (id, source_id, info, description, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
ON CONFLICT (id) DO UPDATE SET
    source_id   = EXCLUDED.source_id,
    info        = EXCLUDED.info,
    description = EXCLUDED.description,
    embedding   = EXCLUDED.embedding`

const searchDocumentsSQL = `
SELECT id, source_id, info, description, created_at,
       1 - (embedding <=> $1) AS similarity
FROM portfolio_documents
ORDER BY embedding <=> $1
LIMIT $2`

const countDocumentsSQL = `SELECT count(*) FROM portfolio_documents`

// PgxQuerier implements Querier on top of pgx.
type PgxQuerier struct {
	db DBTX
}

// NewQuerier creates a PgxQuerier backed by the given pool or connection.
func NewQuerier(dbtx DBTX) *PgxQuerier {
	return &PgxQuerier{db: dbtx}
}

// UpsertDocument inserts or replaces one chunk.
func (q *PgxQuerier) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.SourceID, arg.Info, arg.Description, arg.Embedding, arg.CreatedAt)
	if err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

// SearchDocuments returns the nearest chunks by cosine distance.
func (q *PgxQuerier) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL, arg.QueryEmbedding, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("query search: %w", err)
	}
	defer rows.Close()

	var out []SearchDocumentsRow
	for rows.Next() {
		var row SearchDocumentsRow
		if err := rows.Scan(&row.ID, &row.SourceID, &row.Info, &row.Description, &row.CreatedAt, &row.Similarity); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return out, nil
}

// CountDocuments counts all stored chunks.
func (q *PgxQuerier) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countDocumentsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("scan count: %w", err)
	}
	return n, nil
}
