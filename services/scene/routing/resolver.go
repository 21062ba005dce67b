// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/planvr/scenecore/services/scene/config"
	"github.com/planvr/scenecore/services/scene/llm"
)

// =============================================================================
// Entity Resolver
// =============================================================================

var resolverTracer = otel.Tracer("scenecore.routing.resolver")

// embeddingFloor discards embedding similarities below it as noise.
const embeddingFloor = 0.3

// lexicalAcceptRatio is the minimum partial-match ratio for a fuzzy
// lexical hit.
const lexicalAcceptRatio = 0.70

// lexicalSynonymConfidence is the confidence for a fuzzy-free synonym hit
// that is not an exact substring.
const lexicalSynonymConfidence = 0.8

// semanticBonus is added to embedding-path candidates during the merge
// tie-break, preferring semantic matches over lexical ones at equal score.
const semanticBonus = 0.05

// resolverWarmConcurrency bounds parallel embedding calls during warm-up.
const resolverWarmConcurrency = 4

// resolverQueryTimeout bounds the query-embedding call on the hot path.
const resolverQueryTimeout = 3 * time.Second

// EntityResolver maps an utterance to ranked canonical entity candidates.
//
// Description:
//
//	Two independent paths: an embedding-similarity path over pre-warmed
//	entity vectors, and a lexical path over catalog surface forms
//	(substring, synonym, fuzzy partial match). Resolve merges both with
//	de-duplication by canonical name, preferring the embedding path and
//	longer names on ties. The lexical path alone carries the load when
//	the embedding backend is unavailable.
//
// Thread Safety: Safe for concurrent use after Warm completes.
type EntityResolver struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // canonical name -> unit-normalized vector
	warmed  bool

	catalog  *config.EntityCatalog
	embedder llm.Embedder
	logger   *slog.Logger
}

// NewEntityResolver builds an unwarmed resolver.
//
// Inputs:
//
//	catalog - Entity catalog. Must not be nil.
//	embedder - Embedding client. Nil disables the semantic path entirely.
//	logger - Logger instance. Nil uses slog.Default().
func NewEntityResolver(catalog *config.EntityCatalog, embedder llm.Embedder, logger *slog.Logger) *EntityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityResolver{
		vectors:  make(map[string][]float32),
		catalog:  catalog,
		embedder: embedder,
		logger:   logger,
	}
}

// Warm pre-computes one embedding vector per catalog entity.
//
// Description:
//
//	Embeds each entity document (name, synonyms, definition) in parallel,
//	bounded by resolverWarmConcurrency. Individual failures are logged
//	and skipped; those entities simply never score on the semantic path.
//	If nothing embeds, the resolver stays unwarmed and Resolve degrades
//	to the lexical path.
//
// Outputs:
//
//	error - Non-nil only on context cancellation.
//
// Thread Safety: Call once at startup, not concurrently with Resolve.
func (r *EntityResolver) Warm(ctx context.Context) error {
	if r.embedder == nil || len(r.catalog.Entities) == 0 {
		return nil
	}

	type result struct {
		name   string
		vector []float32
	}

	resultCh := make(chan result, len(r.catalog.Entities))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, resolverWarmConcurrency)

	for _, entity := range r.catalog.Entities {
		e := entity
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			vecs, err := r.embedder.Embed(gctx, []string{entityDoc(e)})
			if err != nil || len(vecs) == 0 {
				if err != nil {
					r.logger.Warn("entity warm-up embed failed",
						slog.String("entity", e.Name),
						slog.String("error", err.Error()),
					)
				}
				return nil
			}
			if unit := llm.Normalize(vecs[0]); unit != nil {
				resultCh <- result{name: e.Name, vector: unit}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	close(resultCh)

	r.mu.Lock()
	for res := range resultCh {
		r.vectors[res.name] = res.vector
	}
	r.warmed = len(r.vectors) > 0
	count := len(r.vectors)
	r.mu.Unlock()

	r.logger.Info("entity resolver warmed",
		slog.Int("embedded", count),
		slog.Int("entities", len(r.catalog.Entities)),
	)
	return nil
}

// Resolve returns up to k candidates, merging the semantic and lexical
// paths.
//
// Description:
//
//	Candidates are de-duplicated by canonical name with the semantic
//	match preferred, then ranked by score plus the semantic bonus plus a
//	length weight (longer canonical names are more specific and win
//	ties). An empty return means no signal, not an error.
func (r *EntityResolver) Resolve(ctx context.Context, text string, k int) []EntityCandidate {
	ctx, span := resolverTracer.Start(ctx, "routing.EntityResolver.Resolve",
		trace.WithAttributes(attribute.Int("k", k)),
	)
	defer span.End()

	semantic := r.semanticCandidates(ctx, text)
	lexical := r.LexicalOverlap(text)

	type ranked struct {
		cand     EntityCandidate
		semantic bool
	}

	byName := make(map[string]ranked, len(semantic)+len(lexical))
	for _, c := range semantic {
		byName[c.Name] = ranked{cand: c, semantic: true}
	}
	for _, c := range lexical {
		if prior, ok := byName[c.Name]; ok {
			// Semantic path wins the slot; keep the higher confidence.
			if c.Confidence > prior.cand.Confidence {
				prior.cand.Confidence = c.Confidence
				byName[c.Name] = prior
			}
			continue
		}
		byName[c.Name] = ranked{cand: c}
	}

	merged := make([]ranked, 0, len(byName))
	for _, rc := range byName {
		merged = append(merged, rc)
	}
	sort.Slice(merged, func(i, j int) bool {
		return rankScore(merged[i].cand, merged[i].semantic) > rankScore(merged[j].cand, merged[j].semantic)
	})

	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	out := make([]EntityCandidate, len(merged))
	for i, rc := range merged {
		out[i] = rc.cand
	}

	span.SetAttributes(
		attribute.Int("semantic_candidates", len(semantic)),
		attribute.Int("lexical_candidates", len(lexical)),
		attribute.Int("merged", len(out)),
	)
	return out
}

// rankScore applies the merge tie-break: longer canonical names are more
// specific, and semantic matches outrank lexical ones at equal score.
func rankScore(c EntityCandidate, semantic bool) float64 {
	score := c.Confidence + 0.01*float64(len(c.Name))
	if semantic {
		score += semanticBonus
	}
	return score
}

// semanticCandidates scores the query vector against every warmed entity
// vector. Nil means the semantic path had no opinion (unwarmed backend or
// a failed query embedding), never an error.
func (r *EntityResolver) semanticCandidates(ctx context.Context, text string) []EntityCandidate {
	r.mu.RLock()
	warmed := r.warmed
	r.mu.RUnlock()
	if !warmed {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, resolverQueryTimeout)
	defer cancel()

	vecs, err := r.embedder.Embed(ectx, []string{text})
	if err != nil || len(vecs) == 0 {
		if err != nil {
			r.logger.Warn("query embedding failed, lexical-only resolution",
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	queryUnit := llm.Normalize(vecs[0])
	if queryUnit == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []EntityCandidate
	for name, vec := range r.vectors {
		sim := float64(llm.Dot(queryUnit, vec))
		if sim < embeddingFloor {
			continue
		}
		entity, ok := r.catalog.Find(name)
		if !ok {
			continue
		}
		out = append(out, candidateFrom(entity, sim))
	}
	return out
}

// LexicalOverlap scans catalog surface forms against the utterance.
//
// Description:
//
//	Longest forms are checked first so "sinus overlay" beats "sinus".
//	An exact substring scores 1.0; any other synonym association scores
//	lexicalSynonymConfidence via fuzzy partial match, kept only at or
//	above lexicalAcceptRatio. One candidate per canonical name, keeping
//	the best confidence.
func (r *EntityResolver) LexicalOverlap(text string) []EntityCandidate {
	lowered := strings.ToLower(text)
	idx := r.catalog.SynonymIndex()

	best := make(map[string]EntityCandidate)
	for _, form := range r.catalog.SurfaceForms() {
		entity := idx[form]

		var conf float64
		switch {
		case strings.Contains(lowered, form):
			conf = 1.0
		default:
			ratio := partialRatio(form, lowered)
			if ratio < lexicalAcceptRatio {
				continue
			}
			conf = lexicalSynonymConfidence * ratio
		}

		if prior, ok := best[entity.Name]; !ok || conf > prior.Confidence {
			best[entity.Name] = candidateFrom(entity, conf)
		}
	}

	out := make([]EntityCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// candidateFrom builds an EntityCandidate from catalog metadata, clamping
// confidence into [0,1].
func candidateFrom(e config.Entity, conf float64) EntityCandidate {
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return EntityCandidate{
		Name:       e.Name,
		Confidence: conf,
		Type:       e.Type,
		Definition: e.Definition,
		Location:   e.Location,
	}
}

// entityDoc builds the text embedded per entity: the canonical name, its
// synonyms, and the definition for semantic signal.
func entityDoc(e config.Entity) string {
	parts := make([]string, 0, len(e.Synonyms)+2)
	parts = append(parts, strings.ReplaceAll(e.Name, "_", " "))
	parts = append(parts, e.Synonyms...)
	if e.Definition != "" {
		parts = append(parts, e.Definition)
	}
	return strings.Join(parts, ". ")
}
