// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planvr/scenecore/services/scene/config"
	"github.com/planvr/scenecore/services/scene/llm"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	retrieverLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scenecore",
		Subsystem: "retriever",
		Name:      "latency_seconds",
		Help:      "End-to-end hybrid retrieval latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
	})

	retrieverModeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenecore",
		Subsystem: "retriever",
		Name:      "mode_total",
		Help:      "Retrieval mode used: hybrid, lexical_only",
	}, []string{"mode"})
)

var retrieverTracer = otel.Tracer("scenecore.rag.retriever")

// =============================================================================
// Hybrid Retriever
// =============================================================================

// Store is the retriever's view of its backend: similarity queries plus
// the lexical recency window. FlatStore implements it.
type Store interface {
	VectorStore
	ChunkSource
}

// HybridRetriever fuses vector-similarity search with lexical
// term-overlap scoring into one ranked list.
//
// Description:
//
//	Semantic scores are normalized by the batch maximum before fusion:
//	fused = w_sem * normalized_semantic + w_lex * lexical. When the
//	semantic path returns nothing (no embedder, embed failure, empty
//	index hits) ranking degrades to lexical-only.
//
// Thread Safety: Safe for concurrent use.
type HybridRetriever struct {
	store    Store
	embedder llm.Embedder
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

// NewHybridRetriever wires the retriever.
//
// Inputs:
//
//	store - The chunk store. Must not be nil.
//	embedder - Embedding client. Nil forces lexical-only mode.
//	cfg - Retrieval tuning from the loaded configuration.
//	logger - Logger instance. Nil uses slog.Default().
func NewHybridRetriever(store Store, embedder llm.Embedder, cfg config.RetrievalConfig, logger *slog.Logger) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Retrieve returns up to k fused matches for the query, best first.
//
// Description:
//
//	k <= 0 uses the configured final top-k. An empty result means the
//	store had nothing relevant; it is not an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, k int) ([]Match, error) {
	ctx, span := retrieverTracer.Start(ctx, "rag.HybridRetriever.Retrieve",
		trace.WithAttributes(attribute.Int("k", k)),
	)
	defer span.End()
	start := time.Now()
	defer func() { retrieverLatency.Observe(time.Since(start).Seconds()) }()

	if k <= 0 {
		k = r.cfg.TopK.Final
	}

	semantic := r.semanticMatches(ctx, query)
	lexical := r.lexicalMatches(query)

	mode := "hybrid"
	if len(semantic) == 0 {
		mode = "lexical_only"
	}
	retrieverModeTotal.WithLabelValues(mode).Inc()
	span.SetAttributes(
		attribute.String("mode", mode),
		attribute.Int("semantic_matches", len(semantic)),
		attribute.Int("lexical_matches", len(lexical)),
	)

	fused := r.fuse(semantic, lexical)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// semanticMatches embeds the query and asks the vector store. Any failure
// is absorbed into an empty result; the lexical path carries the load.
func (r *HybridRetriever) semanticMatches(ctx context.Context, query string) []Match {
	if r.embedder == nil {
		return nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		if err != nil {
			r.logger.Warn("query embedding failed, lexical-only retrieval",
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	unit := llm.Normalize(vecs[0])
	if unit == nil {
		return nil
	}
	matches, err := r.store.Query(ctx, unit, r.cfg.TopK.Semantic, nil)
	if err != nil {
		r.logger.Warn("vector query failed, lexical-only retrieval",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return matches
}

// lexicalMatches scores token containment over the bounded recency
// window: the fraction of query tokens contained in each chunk's text.
func (r *HybridRetriever) lexicalMatches(query string) []Match {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	window := r.store.Recent(r.cfg.LexicalWindow)
	matches := make([]Match, 0, len(window))
	for _, c := range window {
		lowered := strings.ToLower(c.Text)
		hits := 0
		for _, t := range tokens {
			if strings.Contains(lowered, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, Match{
			ID:       c.ID,
			Score:    float64(hits) / float64(len(tokens)),
			Metadata: c.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > r.cfg.TopK.Lexical {
		matches = matches[:r.cfg.TopK.Lexical]
	}
	return matches
}

// fuse combines the two paths: semantic scores normalized by batch max,
// then weighted-summed with lexical scores per chunk id.
func (r *HybridRetriever) fuse(semantic, lexical []Match) []Match {
	if len(semantic) == 0 && len(lexical) == 0 {
		return nil
	}

	maxSem := 0.0
	for _, m := range semantic {
		if m.Score > maxSem {
			maxSem = m.Score
		}
	}

	type fusedEntry struct {
		match Match
		score float64
	}
	byID := make(map[string]*fusedEntry, len(semantic)+len(lexical))

	for _, m := range semantic {
		norm := 0.0
		if maxSem > 0 {
			norm = m.Score / maxSem
		}
		byID[m.ID] = &fusedEntry{match: m, score: r.cfg.Weights.Semantic * norm}
	}
	for _, m := range lexical {
		if e, ok := byID[m.ID]; ok {
			e.score += r.cfg.Weights.Lexical * m.Score
			continue
		}
		byID[m.ID] = &fusedEntry{match: m, score: r.cfg.Weights.Lexical * m.Score}
	}

	out := make([]Match, 0, len(byID))
	for _, e := range byID {
		e.match.Score = e.score
		out = append(out, e.match)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BuildContext assembles the context string handed to the chat oracle.
//
// Description:
//
//	Deduplicates by chunk id, appends chunk texts in rank order, and
//	stops once the character budget is reached. maxChars <= 0 uses the
//	configured budget. The budget bounds the output regardless of how
//	many chunks matched.
func (r *HybridRetriever) BuildContext(results []Match, maxChars int) string {
	if maxChars <= 0 {
		maxChars = r.cfg.MaxContextChars
	}

	var b strings.Builder
	seen := make(map[string]bool, len(results))
	for _, m := range results {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true

		text, ok := r.store.Text(m.ID)
		if !ok || text == "" {
			continue
		}
		if b.Len() > 0 {
			if b.Len()+2 > maxChars {
				break
			}
			b.WriteString("\n\n")
		}
		remaining := maxChars - b.Len()
		if remaining <= 0 {
			break
		}
		if len(text) > remaining {
			b.WriteString(text[:remaining])
			break
		}
		b.WriteString(text)
	}
	return b.String()
}

// tokenize lowercases and splits on non-alphanumeric runs, dropping
// single-character tokens as noise.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
