// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"
)

// =============================================================================
// Ollama Embedding Client
// =============================================================================

// embedMaxRetries bounds the retry loop on transient failures.
const embedMaxRetries = 3

// embedRetryBackoff is the initial backoff between retries; it doubles per
// attempt.
const embedRetryBackoff = 500 * time.Millisecond

// ollamaEmbedReq is the Ollama /api/embed request body. Input accepts a
// string or a string array; the batch form is used here.
type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embedder produces embedding vectors for text.
//
// Description:
//
//	Consumers hold this interface rather than the concrete client so tests
//	can substitute a deterministic stub and so an unavailable backend can
//	be represented by a nil field with lexical-only degradation.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaEmbedder calls the Ollama /api/embed endpoint over HTTP.
//
// Description:
//
//	Retries transient failures (429, 500, 502, 503, 504 and transport
//	errors) up to embedMaxRetries times with doubling backoff. Endpoint
//	and model default from EMBEDDING_SERVICE_URL and EMBEDDING_MODEL.
//
// Thread Safety: Safe for concurrent use.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// NewOllamaEmbedder builds an embedding client with environment defaults.
//
// Inputs:
//
//	url - Embed endpoint URL. Empty falls back to EMBEDDING_SERVICE_URL,
//	      then to the local Ollama default.
//	model - Embedding model name. Empty falls back to EMBEDDING_MODEL,
//	        then to nomic-embed-text.
//	logger - Logger instance. Nil uses slog.Default().
//
// Outputs:
//
//	*OllamaEmbedder - The constructed client. Never nil.
func NewOllamaEmbedder(url, model string, logger *slog.Logger) *OllamaEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		url = "http://localhost:11434/api/embed"
	}
	if model == "" {
		model = os.Getenv("EMBEDDING_MODEL")
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Embed returns one vector per input text, in input order.
//
// Description:
//
//	Sends a single batched request. Transient HTTP statuses and transport
//	errors are retried with doubling backoff; non-transient statuses fail
//	immediately. A response with a vector count different from the input
//	count is treated as a protocol error.
//
// Outputs:
//
//	[][]float32 - One raw (not normalized) vector per input.
//	error - Non-nil after retries are exhausted or on protocol errors.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(ollamaEmbedReq{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	backoff := embedRetryBackoff

	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, retryable, err := e.doEmbed(ctx, reqBody)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("embed service returned %d vectors for %d inputs", len(vectors), len(texts))
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		e.logger.Warn("embed call failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("embed service unavailable after %d attempts: %w", embedMaxRetries, lastErr)
}

// doEmbed performs one HTTP round-trip. The bool reports retryability.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, reqBody []byte) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
		return nil, isTransientStatus(resp.StatusCode), err
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, false, fmt.Errorf("embed service returned no vectors")
	}
	return parsed.Embeddings, false, nil
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// =============================================================================
// Vector Helpers
// =============================================================================

// Normalize returns a unit-length copy of v, or nil for a zero vector.
// Unit-normalized vectors reduce cosine similarity to a dot product.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / float32(norm)
	}
	return out
}

// Dot computes the dot product of two vectors. Mismatched lengths use the
// shorter.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
