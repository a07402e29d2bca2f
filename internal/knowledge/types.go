package knowledge

import "time"

// VectorDimension is the embedding dimensionality of the portfolio
// collection. It must match both the embeddings model output
// (text-embedding-3-small produces 1536 floats) and the vector(1536)
// column in db/migrations.
const VectorDimension = 1536

// Document is one embedded chunk of portfolio knowledge.
type Document struct {
	ID          string    // Unique chunk identifier
	SourceID    string    // Source document this chunk came from
	Info        string    // Short human-readable label for the source
	Description string    // Chunk text (what gets embedded and retrieved)
	Embedding   []float32 // Embedding vector, VectorDimension floats
	CreatedAt   time.Time
}

// Result is a single search hit with its similarity score.
type Result struct {
	Document   Document
	Similarity float64 // Cosine similarity (1 = identical direction)
}
