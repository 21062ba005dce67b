// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planvr/scenecore/services/scene/config"
)

// stubEmbedder maps texts to fixed vectors for deterministic fusion.
type stubEmbedder struct {
	fn  func(text string) []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.fn(t)
	}
	return out, nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		Weights:         config.HybridWeights{Semantic: 0.7, Lexical: 0.3},
		TopK:            config.TopK{Semantic: 10, Lexical: 5, Final: 8},
		MaxContextChars: 3500,
		LexicalWindow:   500,
	}
}

func seededStore(t *testing.T) *FlatStore {
	t.Helper()
	s := memoryStore(t)
	require.NoError(t, s.Upsert(context.Background(), []Chunk{
		{ID: "a", DocumentID: "doc1", Text: "implant planning uses height and length ranges", Vector: []float32{1, 0}},
		{ID: "b", DocumentID: "doc1", Text: "the sinus overlay outlines the maxillary sinus", Vector: []float32{0.8, 0.6}},
		{ID: "c", DocumentID: "doc2", Text: "brightness adjusts overall luminance", Vector: []float32{0, 1}},
	}))
	return s
}

// =============================================================================
// Retrieval Mode Tests
// =============================================================================

func TestRetrieve_SemanticOnlyWeights(t *testing.T) {
	store := seededStore(t)
	cfg := testRetrievalConfig()
	cfg.Weights = config.HybridWeights{Semantic: 1, Lexical: 0}

	emb := &stubEmbedder{fn: func(string) []float32 { return []float32{1, 0} }}
	r := NewHybridRetriever(store, emb, cfg, nil)

	matches, err := r.Retrieve(context.Background(), "whatever", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2, "orthogonal chunk c must not match")

	// With the lexical weight zeroed, ranking is pure cosine order,
	// normalized by the batch maximum.
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.8, matches[1].Score, 1e-6)
}

func TestRetrieve_LexicalOnlyWithoutEmbedder(t *testing.T) {
	store := seededStore(t)
	r := NewHybridRetriever(store, nil, testRetrievalConfig(), nil)

	matches, err := r.Retrieve(context.Background(), "implant planning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "a", matches[0].ID)
}

func TestRetrieve_EmbedFailureDegradesToLexical(t *testing.T) {
	store := seededStore(t)
	emb := &stubEmbedder{err: errors.New("backend down")}
	r := NewHybridRetriever(store, emb, testRetrievalConfig(), nil)

	matches, err := r.Retrieve(context.Background(), "sinus overlay", 5)
	require.NoError(t, err, "embedding failures must degrade, not fail")
	require.NotEmpty(t, matches)
	assert.Equal(t, "b", matches[0].ID)
}

func TestRetrieve_HybridFusion(t *testing.T) {
	store := seededStore(t)
	emb := &stubEmbedder{fn: func(string) []float32 { return []float32{1, 0} }}
	r := NewHybridRetriever(store, emb, testRetrievalConfig(), nil)

	matches, err := r.Retrieve(context.Background(), "implant planning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	// Chunk a tops both paths: semantic 1.0 normalized plus full token
	// containment. fused = 0.7*1.0 + 0.3*1.0.
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestRetrieve_EmptyStore(t *testing.T) {
	store := memoryStore(t)
	r := NewHybridRetriever(store, nil, testRetrievalConfig(), nil)

	matches, err := r.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieve_DefaultKFromConfig(t *testing.T) {
	store := memoryStore(t)
	cfg := testRetrievalConfig()
	cfg.TopK.Final = 1

	chunks := make([]Chunk, 3)
	for i, id := range []string{"x", "y", "z"} {
		chunks[i] = Chunk{ID: id, Text: "implant notes", Vector: []float32{1, 0}}
	}
	require.NoError(t, store.Upsert(context.Background(), chunks))

	r := NewHybridRetriever(store, nil, cfg, nil)
	matches, err := r.Retrieve(context.Background(), "implant", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

// =============================================================================
// Context Assembly Tests
// =============================================================================

func TestBuildContext_DeduplicatesAndJoins(t *testing.T) {
	store := seededStore(t)
	r := NewHybridRetriever(store, nil, testRetrievalConfig(), nil)

	ctx := r.BuildContext([]Match{{ID: "a"}, {ID: "a"}, {ID: "b"}}, 0)
	assert.Equal(t, 1, strings.Count(ctx, "implant planning uses"))
	assert.Contains(t, ctx, "sinus overlay")
	assert.Contains(t, ctx, "\n\n")
}

func TestBuildContext_RespectsBudget(t *testing.T) {
	store := seededStore(t)
	r := NewHybridRetriever(store, nil, testRetrievalConfig(), nil)

	ctx := r.BuildContext([]Match{{ID: "a"}, {ID: "b"}, {ID: "c"}}, 20)
	assert.LessOrEqual(t, len(ctx), 20)
	assert.NotEmpty(t, ctx)
}

func TestBuildContext_SkipsUnknownIDs(t *testing.T) {
	store := seededStore(t)
	r := NewHybridRetriever(store, nil, testRetrievalConfig(), nil)

	ctx := r.BuildContext([]Match{{ID: "missing"}, {ID: "c"}}, 0)
	assert.Equal(t, "brightness adjusts overall luminance", ctx)
}
