// Package rag implements the retrieval-augmented answer pipeline: embed
// the latest user turn, retrieve the nearest portfolio documents, render
// the managed system prompt, and stream the model's answer. It also
// contains the one-shot ingestion path (splitter + indexer) that fills
// the vector store.
package rag
