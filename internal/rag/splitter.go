package rag

import "strings"

// Chunking defaults, matching how the portfolio corpus was originally
// ingested. Changing them invalidates nothing, but re-ingesting with
// different sizes produces different chunk IDs.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// defaultSeparators order chunk boundaries from most to least natural:
// paragraph break, line break, word break, then anywhere.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks long document text into overlapping chunks, preferring
// to cut at paragraph and line boundaries (recursive character
// splitting).
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a Splitter. Non-positive arguments fall back to
// the defaults; overlap is clamped below the chunk size.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split breaks text into chunks of at most the configured size, with
// the configured overlap carried between consecutive chunks. Returns
// nil for empty or whitespace-only input.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitText(text, s.separators)
}

func (s *Splitter) splitText(text string, separators []string) []string {
	// Pick the first separator that appears in the text; "" always matches.
	separator := ""
	var remaining []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	splits := strings.Split(text, separator)

	var chunks []string
	var fitting []string
	for _, piece := range splits {
		if piece == "" {
			continue
		}
		if len(piece) < s.chunkSize {
			fitting = append(fitting, piece)
			continue
		}
		// Oversized piece: flush what fits, then recurse with finer
		// separators.
		if len(fitting) > 0 {
			chunks = append(chunks, s.mergeSplits(fitting, separator)...)
			fitting = nil
		}
		if len(remaining) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.splitText(piece, remaining)...)
		}
	}
	if len(fitting) > 0 {
		chunks = append(chunks, s.mergeSplits(fitting, separator)...)
	}
	return chunks
}

// mergeSplits greedily packs pieces into chunks up to chunkSize, then
// carries roughly chunkOverlap bytes of trailing pieces into the next
// chunk.
func (s *Splitter) mergeSplits(splits []string, separator string) []string {
	sepLen := len(separator)

	var chunks []string
	var current []string
	total := 0

	joinLen := func(extra int) int {
		n := total + extra
		if len(current) > 0 {
			n += sepLen
		}
		return n
	}

	for _, piece := range splits {
		if joinLen(len(piece)) > s.chunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Drop leading pieces until the carried tail fits the overlap
			// budget and leaves room for the next piece.
			for len(current) > 0 &&
				(total > s.chunkOverlap || joinLen(len(piece)) > s.chunkSize) {
				total -= len(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, piece)
		total += len(piece)
	}

	if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
