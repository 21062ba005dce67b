// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubEmbedder maps texts to vectors with a pure function, so tests can
// steer the semantic path deterministically.
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

// =============================================================================
// Lexical Path Tests
// =============================================================================

func TestLexicalOverlap_ExactSubstring(t *testing.T) {
	cfg := testConfig(t)
	r := NewEntityResolver(&cfg.Catalog, nil, nil)

	cands := r.LexicalOverlap("please turn on the handles")
	if len(cands) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if cands[0].Name != "handles" {
		t.Errorf("top candidate = %q, want handles", cands[0].Name)
	}
	if cands[0].Confidence != 1.0 {
		t.Errorf("exact substring should score 1.0, got %.2f", cands[0].Confidence)
	}
}

func TestLexicalOverlap_SynonymResolvesToCanonicalName(t *testing.T) {
	cfg := testConfig(t)
	r := NewEntityResolver(&cfg.Catalog, nil, nil)

	cands := r.LexicalOverlap("show the sinus overlay")
	if len(cands) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if cands[0].Name != "show_sinus" {
		t.Errorf("top candidate = %q, want show_sinus", cands[0].Name)
	}
}

func TestLexicalOverlap_NoSignal(t *testing.T) {
	cfg := testConfig(t)
	r := NewEntityResolver(&cfg.Catalog, nil, nil)

	if cands := r.LexicalOverlap("zzz qqq www"); len(cands) != 0 {
		t.Errorf("expected no candidates, got %v", cands)
	}
}

// =============================================================================
// Resolve / Merge Tests
// =============================================================================

func TestResolve_LexicalOnlyWithoutEmbedder(t *testing.T) {
	cfg := testConfig(t)
	r := NewEntityResolver(&cfg.Catalog, nil, nil)

	cands := r.Resolve(context.Background(), "turn on the handles", 5)
	if len(cands) == 0 || cands[0].Name != "handles" {
		t.Fatalf("expected handles from the lexical path, got %v", cands)
	}
}

func TestResolve_LongerNameWinsAtEqualConfidence(t *testing.T) {
	cfg := testConfig(t)
	r := NewEntityResolver(&cfg.Catalog, nil, nil)

	// "contrast panel" and "contrast" both match exactly at 1.0; the
	// length weight must rank the more specific canonical name first.
	cands := r.Resolve(context.Background(), "adjust the contrast panel", 5)
	if len(cands) < 2 {
		t.Fatalf("expected both contrast candidates, got %v", cands)
	}
	if cands[0].Name != "control_panel" {
		t.Errorf("top candidate = %q, want control_panel", cands[0].Name)
	}
	if cands[1].Name != "contrast" {
		t.Errorf("second candidate = %q, want contrast", cands[1].Name)
	}
}

func TestResolve_SemanticPathAfterWarm(t *testing.T) {
	cfg := testConfig(t)

	// Anything mentioning the mandibular canal embeds onto the same axis
	// as the nerve overlay's entity document; everything else is
	// orthogonal to it.
	emb := &stubEmbedder{fn: func(text string) []float32 {
		if strings.Contains(strings.ToLower(text), "canal") {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	}}
	r := NewEntityResolver(&cfg.Catalog, emb, nil)
	if err := r.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	cands := r.Resolve(context.Background(), "mandibular canal visibility", 5)
	if len(cands) != 1 {
		t.Fatalf("expected exactly one semantic candidate, got %v", cands)
	}
	if cands[0].Name != "show_nerve" {
		t.Errorf("candidate = %q, want show_nerve", cands[0].Name)
	}
	if cands[0].Confidence < 0.99 {
		t.Errorf("aligned vectors should score ~1.0, got %.3f", cands[0].Confidence)
	}
}

func TestResolve_FloorDiscardsWeakSimilarity(t *testing.T) {
	cfg := testConfig(t)

	query := "zzz qqq www"
	emb := &stubEmbedder{fn: func(text string) []float32 {
		if text == query {
			return []float32{0.2, 0.9797959}
		}
		return []float32{1, 0}
	}}
	r := NewEntityResolver(&cfg.Catalog, emb, nil)
	if err := r.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	// Every similarity is 0.2, below the embedding floor, and the text
	// matches no surface form either.
	if cands := r.Resolve(context.Background(), query, 5); len(cands) != 0 {
		t.Errorf("expected no candidates below the floor, got %v", cands)
	}
}

func TestResolve_DegradesWhenWarmFails(t *testing.T) {
	cfg := testConfig(t)

	emb := &stubEmbedder{err: errors.New("embedding backend down")}
	r := NewEntityResolver(&cfg.Catalog, emb, nil)
	if err := r.Warm(context.Background()); err != nil {
		t.Fatalf("Warm must absorb per-entity failures, got %v", err)
	}

	cands := r.Resolve(context.Background(), "turn on the handles", 5)
	if len(cands) == 0 || cands[0].Name != "handles" {
		t.Fatalf("expected lexical degradation to still find handles, got %v", cands)
	}
}

func TestResolve_CapsAtK(t *testing.T) {
	cfg := testConfig(t)
	r := NewEntityResolver(&cfg.Catalog, nil, nil)

	cands := r.Resolve(context.Background(), "xray flashlight near the xray display and menu bar", 2)
	if len(cands) > 2 {
		t.Errorf("expected at most 2 candidates, got %d", len(cands))
	}
}
