// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/planvr/scenecore/services/scene/config"
)

// =============================================================================
// Numeric Value Parser
// =============================================================================

// Parser confidence tiers. Clean structured matches are near-certain,
// bare in-range numbers are probable, out-of-range or role-ambiguous
// values are weak but still reportable.
const (
	valueConfidenceClean     = 0.9
	valueConfidenceBare      = 0.7
	valueConfidenceAmbiguous = 0.5
)

// defaultDeltaStep is the step applied by bare increase/decrease commands
// without an explicit "by N".
const defaultDeltaStep = 10.0

var (
	// "4 x 11.5", "4x11.5", "4 × 11.5"
	dimensionPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[x×]\s*(\d+(?:\.\d+)?)`)

	// "height 4", "height of 4.5", "height: 4"
	heightPattern = regexp.MustCompile(`height\s*(?:of|is|=|:)?\s*(\d+(?:\.\d+)?)`)

	// "length 11.5", "length of 11.5", "length: 11.5"
	lengthPattern = regexp.MustCompile(`length\s*(?:of|is|=|:)?\s*(\d+(?:\.\d+)?)`)

	// bare number, optional percent suffix
	numberPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%?`)

	// "by 5", "by 2.5"
	deltaStepPattern = regexp.MustCompile(`by\s+(\d+(?:\.\d+)?)`)
)

// ValueParser extracts numeric values from utterances.
//
// Description:
//
//	Attempts, in order: the explicit two-number dimension pattern, labeled
//	height/length patterns, and a single bare number (percent suffix
//	treated identically). Role assignment for dimension pairs checks each
//	number against the declared per-dimension ranges of the target.
//	No match is an ok=false return, never an error.
//
// Thread Safety: Safe for concurrent use; reads only immutable catalogs.
type ValueParser struct {
	ranges *config.RangeCatalog
}

// NewValueParser builds a parser over the loaded range catalog.
func NewValueParser(ranges *config.RangeCatalog) *ValueParser {
	return &ValueParser{ranges: ranges}
}

// Parse extracts a value from the utterance.
//
// Inputs:
//
//	text - The raw utterance.
//	targetHint - Canonical target name guiding range checks. Empty skips
//	             range-based confidence adjustment for scalars and uses
//	             the dimension tables of no target.
//
// Outputs:
//
//	ParsedValue - Scalar or dimension mapping with confidence.
//	bool - False when no numeric pattern matched at all.
func (p *ValueParser) Parse(text, targetHint string) (ParsedValue, bool) {
	lowered := strings.ToLower(text)

	if v, ok := p.parseDimensionPair(lowered, targetHint); ok {
		return v, true
	}
	if v, ok := p.parseLabeledDimensions(lowered, targetHint); ok {
		return v, true
	}
	return p.parseScalar(lowered, targetHint)
}

// parseDimensionPair handles the explicit "H x L" form.
func (p *ValueParser) parseDimensionPair(lowered, targetHint string) (ParsedValue, bool) {
	m := dimensionPattern.FindStringSubmatch(lowered)
	if m == nil {
		return ParsedValue{}, false
	}
	a, _ := strconv.ParseFloat(m[1], 64)
	b, _ := strconv.ParseFloat(m[2], 64)
	dims, conf := p.assignDimensions(targetHint, a, b)
	if dims == nil {
		return ParsedValue{}, false
	}
	return ParsedValue{Dimensions: dims, Confidence: conf}, true
}

// parseLabeledDimensions handles "height ... length ..." forms, in either
// order, with either label alone acceptable when the other is absent.
func (p *ValueParser) parseLabeledDimensions(lowered, targetHint string) (ParsedValue, bool) {
	names := p.ranges.DimensionNames(targetName(targetHint))
	if len(names) < 2 {
		return ParsedValue{}, false
	}

	hm := heightPattern.FindStringSubmatch(lowered)
	lm := lengthPattern.FindStringSubmatch(lowered)
	if hm == nil && lm == nil {
		return ParsedValue{}, false
	}

	dims := make(map[string]float64, 2)
	conf := valueConfidenceClean
	if hm != nil {
		h, _ := strconv.ParseFloat(hm[1], 64)
		dims[names[0]] = h
		if r, ok := p.ranges.Dimension(targetName(targetHint), names[0]); ok && !r.Contains(h) {
			conf = valueConfidenceAmbiguous
		}
	}
	if lm != nil {
		l, _ := strconv.ParseFloat(lm[1], 64)
		dims[names[1]] = l
		if r, ok := p.ranges.Dimension(targetName(targetHint), names[1]); ok && !r.Contains(l) {
			conf = valueConfidenceAmbiguous
		}
	}
	return ParsedValue{Dimensions: dims, Confidence: conf}, true
}

// parseScalar handles a single bare number; a percent suffix is stripped
// and otherwise ignored.
func (p *ValueParser) parseScalar(lowered, targetHint string) (ParsedValue, bool) {
	m := numberPattern.FindStringSubmatch(lowered)
	if m == nil {
		return ParsedValue{}, false
	}
	n, _ := strconv.ParseFloat(m[1], 64)

	conf := valueConfidenceBare
	if targetHint != "" && !p.ranges.Target(targetHint).Contains(n) {
		conf = valueConfidenceAmbiguous
	}
	return ParsedValue{Scalar: n, IsScalar: true, Confidence: conf}, true
}

// assignDimensions decides which number plays which role for a
// two-dimension target.
//
// If exactly one order fits both declared ranges, that order wins at
// clean confidence. If both orders fit, the as-written order maps to the
// first declared role. If neither order fits, the as-written order is
// kept at reduced confidence.
func (p *ValueParser) assignDimensions(targetHint string, a, b float64) (map[string]float64, float64) {
	target := targetName(targetHint)
	names := p.ranges.DimensionNames(target)
	if len(names) < 2 {
		return nil, 0
	}
	first, second := names[0], names[1]
	rFirst, _ := p.ranges.Dimension(target, first)
	rSecond, _ := p.ranges.Dimension(target, second)

	asWritten := rFirst.Contains(a) && rSecond.Contains(b)
	swapped := rFirst.Contains(b) && rSecond.Contains(a)

	switch {
	case asWritten:
		return map[string]float64{first: a, second: b}, valueConfidenceClean
	case swapped:
		return map[string]float64{first: b, second: a}, valueConfidenceClean
	default:
		return map[string]float64{first: a, second: b}, valueConfidenceAmbiguous
	}
}

// ParseDelta extracts a signed relative step from increase/decrease
// commands. "increase X" steps +10, "decrease X by 5" steps -5.
func (p *ValueParser) ParseDelta(text string) (float64, bool) {
	lowered := strings.ToLower(text)

	sign := 0.0
	switch {
	case containsAny(lowered, "increase", "raise"):
		sign = 1
	case containsAny(lowered, "decrease", "lower", "reduce"):
		sign = -1
	default:
		return 0, false
	}

	step := defaultDeltaStep
	if m := deltaStepPattern.FindStringSubmatch(lowered); m != nil {
		step, _ = strconv.ParseFloat(m[1], 64)
	}
	return sign * step, true
}

// Numbers returns every bare number in the utterance, in order. The
// router's history-sensitive implant rule feeds pairs of these through
// assignDimensions.
func (p *ValueParser) Numbers(text string) []float64 {
	matches := numberPattern.FindAllStringSubmatch(strings.ToLower(text), -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		n, _ := strconv.ParseFloat(m[1], 64)
		out = append(out, n)
	}
	return out
}

// AssignDimensionPair exposes role disambiguation for two loose numbers.
func (p *ValueParser) AssignDimensionPair(targetHint string, a, b float64) (ParsedValue, bool) {
	dims, conf := p.assignDimensions(targetHint, a, b)
	if dims == nil {
		return ParsedValue{}, false
	}
	return ParsedValue{Dimensions: dims, Confidence: conf}, true
}

// targetName defaults the dimension-table lookup to the implant target,
// the only multi-dimension target in the default catalog.
func targetName(hint string) string {
	if hint == "" {
		return "implants"
	}
	return hint
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
