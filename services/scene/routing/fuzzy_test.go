// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"math"
	"testing"
)

// =============================================================================
// Levenshtein Tests
// =============================================================================

func TestLevenshteinDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
		{"turn on", "turn off", 2},
	}
	for _, tc := range cases {
		if got := levenshteinDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

// =============================================================================
// Partial Ratio Tests
// =============================================================================

func TestPartialRatio_ExactSubstring(t *testing.T) {
	if got := partialRatio("brightness", "set the brightness to 40"); got != 1 {
		t.Errorf("exact substring should score 1.0, got %.3f", got)
	}
}

func TestPartialRatio_CaseInsensitive(t *testing.T) {
	if got := partialRatio("Turn On", "please TURN ON the handles"); got != 1 {
		t.Errorf("case should not matter, got %.3f", got)
	}
}

func TestPartialRatio_Typo(t *testing.T) {
	got := partialRatio("brightness", "set the brigthness to 40")
	if got < 0.7 || got >= 1 {
		t.Errorf("single transposition should land in [0.7, 1), got %.3f", got)
	}
}

func TestPartialRatio_NoMatch(t *testing.T) {
	if got := partialRatio("contrast", "zzzzzzzz"); got > 0.3 {
		t.Errorf("unrelated strings should score low, got %.3f", got)
	}
}

func TestPartialRatio_EmptyInputs(t *testing.T) {
	if got := partialRatio("", "anything"); got != 0 {
		t.Errorf("empty needle should score 0, got %.3f", got)
	}
	if got := partialRatio("anything", ""); got != 0 {
		t.Errorf("empty haystack should score 0, got %.3f", got)
	}
}

func TestSimilarityRatio_Bounds(t *testing.T) {
	for _, pair := range [][2]string{{"a", "b"}, {"abc", "abd"}, {"x", "x"}} {
		r := similarityRatio(pair[0], pair[1])
		if r < 0 || r > 1 || math.IsNaN(r) {
			t.Errorf("similarityRatio(%q, %q) = %.3f out of [0,1]", pair[0], pair[1], r)
		}
	}
}
