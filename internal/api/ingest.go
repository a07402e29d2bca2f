package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/babandeep/portfolio-chat/internal/rag"
)

// maxIngestBodyBytes caps the ingestion payload.
const maxIngestBodyBytes = 8 << 20

// Ingestor runs the batch ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, docs []rag.SourceDocument) (rag.IngestResult, error)
}

// ingestHandler handles POST /api/ingest: accept a JSON array of source
// documents and load them into the vector store.
type ingestHandler struct {
	ingestor Ingestor
	logger   *slog.Logger
}

func (h *ingestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)

	var docs []rag.SourceDocument
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON array of documents", h.logger)
		return
	}
	if len(docs) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "no documents to ingest", h.logger)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), docs)
	if err != nil {
		h.logger.Error("ingestion failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "ingest_failed", "ingestion failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, res, h.logger)
}
