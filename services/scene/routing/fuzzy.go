// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import "strings"

// =============================================================================
// Fuzzy String Matching
// =============================================================================

// levenshteinDistance computes the edit distance between two strings using
// the two-row dynamic programming form.
func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// similarityRatio converts edit distance to a [0,1] similarity over the
// longer string.
func similarityRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

// partialRatio returns the best similarity between needle and any
// needle-length window of haystack, in [0,1].
//
// A short phrase buried inside a longer utterance still scores near 1,
// which is the behavior the lexical entity path and the fuzzy intent
// fallback both need.
func partialRatio(needle, haystack string) float64 {
	needle = strings.ToLower(needle)
	haystack = strings.ToLower(haystack)

	rn, rh := []rune(needle), []rune(haystack)
	if len(rn) == 0 || len(rh) == 0 {
		return 0
	}
	if len(rn) >= len(rh) {
		return similarityRatio(needle, haystack)
	}

	best := 0.0
	for i := 0; i+len(rn) <= len(rh); i++ {
		window := string(rh[i : i+len(rn)])
		if r := similarityRatio(needle, window); r > best {
			best = r
			if best == 1 {
				break
			}
		}
	}
	return best
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
