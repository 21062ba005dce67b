// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Embed HTTP Tests
// =============================================================================

func TestEmbed_BatchedRequest(t *testing.T) {
	var gotReq ollamaEmbedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{
			Embeddings: [][]float32{{1, 0}, {0, 1}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", nil)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])

	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, []string{"first", "second"}, gotReq.Input)
}

func TestEmbed_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", nil)
	vecs, err := e.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbed_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", nil)
	_, err := e.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must fail immediately")
}

func TestEmbed_VectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "test-model", nil)
	_, err := e.Embed(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 inputs")
}

func TestEmbed_EmptyInput(t *testing.T) {
	e := NewOllamaEmbedder("http://invalid.localhost", "test-model", nil)
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

// =============================================================================
// Vector Helper Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	unit := Normalize([]float32{3, 4})
	require.NotNil(t, unit)
	assert.InDelta(t, 0.6, float64(unit[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(unit[1]), 1e-6)

	var norm float64
	for _, x := range unit {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	assert.Nil(t, Normalize([]float32{0, 0}), "zero vector has no direction")
}

func TestDot(t *testing.T) {
	assert.InDelta(t, 1.0, float64(Dot([]float32{1, 0}, []float32{1, 0})), 1e-6)
	assert.InDelta(t, 0.0, float64(Dot([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.InDelta(t, 0.8, float64(Dot([]float32{1, 0}, []float32{0.8, 0.6})), 1e-6)

	// Mismatched lengths use the shorter vector.
	assert.InDelta(t, 1.0, float64(Dot([]float32{1}, []float32{1, 5})), 1e-6)
}
