package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babandeep/portfolio-chat/internal/knowledge"
)

type fakeIndexerStore struct {
	readyErr  error
	insertErr func(doc knowledge.Document) error
	inserted  []knowledge.Document
}

func (f *fakeIndexerStore) EnsureReady(context.Context) error { return f.readyErr }

func (f *fakeIndexerStore) Insert(_ context.Context, doc knowledge.Document) error {
	if f.insertErr != nil {
		if err := f.insertErr(doc); err != nil {
			return err
		}
	}
	f.inserted = append(f.inserted, doc)
	return nil
}

func newFastIndexer(store IndexerStore, embedder Embedder) *Indexer {
	ix := NewIndexer(store, embedder, nil)
	ix.limiter.SetLimit(1e6) // tests should not wait on pacing
	return ix
}

func TestIngestChunksAndInserts(t *testing.T) {
	t.Parallel()

	store := &fakeIndexerStore{}
	embedder := &fakeEmbedder{vector: []float32{0.5}}
	ix := newFastIndexer(store, embedder)
	ix.splitter = NewSplitter(40, 0)

	docs := []SourceDocument{{
		ID:          "proj-1",
		Info:        "Chat assistant",
		Description: "Go backend with streaming.\n\nPostgres vector retrieval layer.",
	}}

	res, err := ix.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentsIngested)
	assert.Equal(t, 0, res.DocumentsFailed)
	assert.Equal(t, 2, res.ChunksInserted)

	require.Len(t, store.inserted, 2)
	assert.Equal(t, "proj-1-0", store.inserted[0].ID)
	assert.Equal(t, "proj-1-1", store.inserted[1].ID)
	for _, doc := range store.inserted {
		assert.Equal(t, "proj-1", doc.SourceID)
		assert.Equal(t, "Chat assistant", doc.Info)
		assert.Equal(t, []float32{0.5}, doc.Embedding)
		assert.NotEmpty(t, doc.Description)
	}
}

func TestIngestContinuesPastFailedDocument(t *testing.T) {
	t.Parallel()

	store := &fakeIndexerStore{
		insertErr: func(doc knowledge.Document) error {
			if doc.SourceID == "bad" {
				return errors.New("insert failed")
			}
			return nil
		},
	}
	ix := newFastIndexer(store, &fakeEmbedder{vector: []float32{1}})

	res, err := ix.Ingest(context.Background(), []SourceDocument{
		{ID: "bad", Info: "x", Description: "broken doc"},
		{ID: "good", Info: "y", Description: "fine doc"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentsIngested)
	assert.Equal(t, 1, res.DocumentsFailed)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "good-0", store.inserted[0].ID)
}

func TestIngestSkipsDocumentWithoutID(t *testing.T) {
	t.Parallel()

	store := &fakeIndexerStore{}
	ix := newFastIndexer(store, &fakeEmbedder{vector: []float32{1}})

	res, err := ix.Ingest(context.Background(), []SourceDocument{
		{Info: "anonymous", Description: "no id"},
		{ID: "ok", Info: "named", Description: "has id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentsIngested)
	assert.Equal(t, 1, res.DocumentsFailed)
	require.Len(t, store.inserted, 1)
}

func TestIngestStopsWhenStoreNotReady(t *testing.T) {
	t.Parallel()

	store := &fakeIndexerStore{readyErr: errors.New("migrations failed")}
	embedder := &fakeEmbedder{vector: []float32{1}}
	ix := newFastIndexer(store, embedder)

	_, err := ix.Ingest(context.Background(), []SourceDocument{{ID: "a", Description: "x"}})
	require.Error(t, err)
	assert.Zero(t, embedder.calls)
}

func TestIngestStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeIndexerStore{}
	ix := newFastIndexer(store, &fakeEmbedder{vector: []float32{1}})

	_, err := ix.Ingest(ctx, []SourceDocument{
		{ID: "a", Description: "first"},
		{ID: "b", Description: "second"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.inserted)
}

func TestIngestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "portfolio.json")
	data := `[
		{"id": "proj-1", "info": "Chat assistant", "description": "Go backend."},
		{"id": "proj-2", "info": "Scraper", "description": "Collects articles."}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	store := &fakeIndexerStore{}
	ix := newFastIndexer(store, &fakeEmbedder{vector: []float32{1}})

	res, err := ix.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DocumentsIngested)
	require.Len(t, store.inserted, 2)
}

func TestIngestFileErrors(t *testing.T) {
	t.Parallel()

	ix := newFastIndexer(&fakeIndexerStore{}, &fakeEmbedder{vector: []float32{1}})

	_, err := ix.IngestFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = ix.IngestFile(context.Background(), bad)
	assert.Error(t, err)
}

func TestIngestLargeDocumentChunkIDsAreSequential(t *testing.T) {
	t.Parallel()

	store := &fakeIndexerStore{}
	ix := newFastIndexer(store, &fakeEmbedder{vector: []float32{1}})
	ix.splitter = NewSplitter(50, 10)

	long := strings.Repeat("portfolio project detail sentence. ", 40)
	_, err := ix.Ingest(context.Background(), []SourceDocument{{ID: "big", Info: "i", Description: long}})
	require.NoError(t, err)

	require.Greater(t, len(store.inserted), 2)
	for i, doc := range store.inserted {
		assert.Equal(t, fmt.Sprintf("big-%d", i), doc.ID)
	}
}
