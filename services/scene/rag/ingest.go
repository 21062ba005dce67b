// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/planvr/scenecore/services/scene/llm"
)

// =============================================================================
// Ingestion
// =============================================================================

// Ingestor splits, embeds, and upserts documents into the vector store.
//
// Thread Safety: Safe for concurrent use; the store serializes mutation.
type Ingestor struct {
	store    VectorStore
	embedder llm.Embedder
	logger   *slog.Logger
}

// NewIngestor wires the ingestion path.
func NewIngestor(store VectorStore, embedder llm.Embedder, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, embedder: embedder, logger: logger}
}

// Ingest splits the text, embeds every chunk in one batch, and upserts
// the result.
//
// Description:
//
//	An empty documentID gets a fresh UUID. Chunk ids are documentID/N.
//	Unlike retrieval, ingestion fails hard on embedding errors: silently
//	storing unembedded chunks would poison the semantic path. The store
//	is persisted after a successful upsert.
//
// Outputs:
//
//	string - The document id.
//	int - The number of chunks stored.
//	error - Non-nil on embedding or storage failure.
func (i *Ingestor) Ingest(ctx context.Context, documentID, text string, metadata map[string]string) (string, int, error) {
	ctx, span := retrieverTracer.Start(ctx, "rag.Ingestor.Ingest")
	defer span.End()

	if documentID == "" {
		documentID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("document_id", documentID))

	parts := SplitText(text, DefaultChunkSize)
	if len(parts) == 0 {
		return documentID, 0, nil
	}

	vectors, err := i.embedder.Embed(ctx, parts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk embedding failed")
		return "", 0, fmt.Errorf("ingest %s: embedding: %w", documentID, err)
	}
	if len(vectors) != len(parts) {
		return "", 0, fmt.Errorf("ingest %s: embedding returned %d vectors for %d chunks", documentID, len(vectors), len(parts))
	}

	chunks := make([]Chunk, len(parts))
	for n, part := range parts {
		chunks[n] = Chunk{
			ID:         fmt.Sprintf("%s/%d", documentID, n),
			DocumentID: documentID,
			Text:       part,
			Metadata:   metadata,
			Vector:     llm.Normalize(vectors[n]),
		}
	}

	if err := i.store.Upsert(ctx, chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return "", 0, fmt.Errorf("ingest %s: upsert: %w", documentID, err)
	}
	if err := i.store.Persist(ctx); err != nil {
		// Chunks are live in memory; persistence failure only costs
		// re-ingestion after a restart.
		i.logger.Warn("ingest persistence failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
	}

	i.logger.Info("document ingested",
		slog.String("document_id", documentID),
		slog.Int("chunks", len(chunks)),
	)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	return documentID, len(chunks), nil
}

// Delete removes a document's chunks and persists the change.
func (i *Ingestor) Delete(ctx context.Context, documentID string) error {
	if err := i.store.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete %s: %w", documentID, err)
	}
	if err := i.store.Persist(ctx); err != nil {
		i.logger.Warn("delete persistence failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
