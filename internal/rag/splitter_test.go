package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterSmallTextSingleChunk(t *testing.T) {
	t.Parallel()

	s := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	chunks := s.Split("Built a chat assistant in Go with pgvector.")

	require.Len(t, chunks, 1)
	assert.Equal(t, "Built a chat assistant in Go with pgvector.", chunks[0])
}

func TestSplitterEmptyInput(t *testing.T) {
	t.Parallel()

	s := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t  "))
}

func TestSplitterPrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()

	s := NewSplitter(40, 0)
	text := "First paragraph about Go.\n\nSecond paragraph about Postgres."
	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph about Go.", chunks[0])
	assert.Equal(t, "Second paragraph about Postgres.", chunks[1])
}

func TestSplitterRespectsChunkSize(t *testing.T) {
	t.Parallel()

	s := NewSplitter(100, 20)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	chunks := s.Split(text)

	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 100, "chunk %d exceeds size", i)
		assert.NotEmpty(t, c)
	}
}

func TestSplitterOverlapCarriesContext(t *testing.T) {
	t.Parallel()

	s := NewSplitter(30, 12)
	chunks := s.Split("alpha beta gamma delta epsilon zeta eta theta")

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		carried := prevWords[len(prevWords)-1]
		assert.Contains(t, chunks[i], carried,
			"chunk %d should repeat the tail of chunk %d", i, i-1)
	}
}

func TestSplitterUnbreakableRun(t *testing.T) {
	t.Parallel()

	// A run with no natural boundary falls through to character-level
	// splitting; every byte must survive and chunks stay within size.
	s := NewSplitter(10, 0)
	chunks := s.Split("abcdefghijklmnop")

	require.NotEmpty(t, chunks)
	assert.Equal(t, "abcdefghijklmnop", strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
	}
}

func TestSplitterNoContentLost(t *testing.T) {
	t.Parallel()

	s := NewSplitter(50, 10)
	text := "Go service.\nPostgres storage.\nOpenAI embeddings.\nLangfuse prompts.\nStreaming responses."
	chunks := s.Split(text)

	joined := strings.Join(chunks, "\n")
	for _, line := range strings.Split(text, "\n") {
		assert.Contains(t, joined, line)
	}
}

func TestNewSplitterDefaults(t *testing.T) {
	t.Parallel()

	s := NewSplitter(0, -1)
	assert.Equal(t, DefaultChunkSize, s.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, s.chunkOverlap)

	s = NewSplitter(100, 150)
	assert.Equal(t, 50, s.chunkOverlap, "overlap clamps below chunk size")
}
