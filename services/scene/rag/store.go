// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rag provides the fallback knowledge source: document ingestion,
// a vector store, and hybrid semantic+lexical retrieval with bounded
// context assembly.
package rag

import "context"

// =============================================================================
// Store Types
// =============================================================================

// Chunk is one ingested text fragment with its embedding vector.
//
// IDs are unique within a document. Vector must be unit-normalized before
// Upsert so similarity reduces to a dot product.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Vector     []float32         `json:"-"`
}

// Match is one retrieval hit. Score is directionally higher-is-better;
// its scale depends on the producing path (cosine, lexical, or fused).
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// =============================================================================
// VectorStore Interface
// =============================================================================

// VectorStore is the similarity oracle behind the retriever.
//
// Description:
//
//	Concrete backends are swappable implementations selected by
//	configuration. Query is read-only and safe to run concurrently;
//	Upsert and DeleteByDocument are serialized against readers by the
//	implementation. Ingestion is infrequent, so an exclusive section per
//	mutation is acceptable.
type VectorStore interface {
	// Upsert inserts or replaces chunks by id.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Query returns up to k nearest chunks by similarity to the query
	// vector, best first. An empty result means no signal, not an error.
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error)

	// DeleteByDocument removes every chunk of one document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Persist flushes the store's state to durable storage, if any.
	Persist(ctx context.Context) error
}

// ChunkSource exposes the lexical path's view of the store: a bounded
// window of recent chunks and text lookup by id for context assembly.
type ChunkSource interface {
	// Recent returns up to n most recently upserted chunks, newest last.
	Recent(n int) []Chunk

	// Text returns the stored text of a chunk.
	Text(id string) (string, bool)
}
