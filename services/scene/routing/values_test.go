// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"testing"

	"github.com/planvr/scenecore/services/scene/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("loading default config: %v", err)
	}
	return cfg
}

// =============================================================================
// Dimension Pair Tests
// =============================================================================

func TestParse_DimensionPair(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("4 x 11.5", "implants")
	if !ok {
		t.Fatal("expected a parse for '4 x 11.5'")
	}
	if v.IsScalar {
		t.Fatal("expected dimensions, got scalar")
	}
	if v.Dimensions["height_y_mm"] != 4.0 || v.Dimensions["length_z_mm"] != 11.5 {
		t.Errorf("wrong role assignment: %v", v.Dimensions)
	}
	if v.Confidence != valueConfidenceClean {
		t.Errorf("clean dimension match should score %.1f, got %.2f", valueConfidenceClean, v.Confidence)
	}
}

func TestParse_DimensionPair_SwappedOrder(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	// 11.5 only fits length, 4 only fits height: the swap is unambiguous.
	v, ok := p.Parse("11.5 x 4", "implants")
	if !ok {
		t.Fatal("expected a parse")
	}
	if v.Dimensions["height_y_mm"] != 4.0 || v.Dimensions["length_z_mm"] != 11.5 {
		t.Errorf("swapped pair should be reassigned by range: %v", v.Dimensions)
	}
	if v.Confidence != valueConfidenceClean {
		t.Errorf("unambiguous swap should stay clean, got %.2f", v.Confidence)
	}
}

func TestParse_DimensionPair_NeitherFits(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("99 x 100", "implants")
	if !ok {
		t.Fatal("expected a parse")
	}
	if v.Dimensions["height_y_mm"] != 99 || v.Dimensions["length_z_mm"] != 100 {
		t.Errorf("as-written order should be kept when neither fits: %v", v.Dimensions)
	}
	if v.Confidence != valueConfidenceAmbiguous {
		t.Errorf("out-of-range pair should score %.1f, got %.2f", valueConfidenceAmbiguous, v.Confidence)
	}
}

func TestParse_DimensionPair_UnicodeTimes(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("4.5 × 10", "implants")
	if !ok {
		t.Fatal("expected a parse for the unicode multiplication sign")
	}
	if v.Dimensions["height_y_mm"] != 4.5 || v.Dimensions["length_z_mm"] != 10 {
		t.Errorf("wrong assignment: %v", v.Dimensions)
	}
}

// =============================================================================
// Labeled Dimension Tests
// =============================================================================

func TestParse_LabeledDimensions(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("height 4.5 and length 12", "implants")
	if !ok {
		t.Fatal("expected a parse")
	}
	if v.Dimensions["height_y_mm"] != 4.5 || v.Dimensions["length_z_mm"] != 12 {
		t.Errorf("labeled parse wrong: %v", v.Dimensions)
	}
	if v.Confidence != valueConfidenceClean {
		t.Errorf("in-range labeled match should be clean, got %.2f", v.Confidence)
	}
}

func TestParse_LabeledSingleDimension(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("height of 4", "implants")
	if !ok {
		t.Fatal("expected a parse")
	}
	if len(v.Dimensions) != 1 || v.Dimensions["height_y_mm"] != 4 {
		t.Errorf("expected height only: %v", v.Dimensions)
	}
}

// =============================================================================
// Scalar Tests
// =============================================================================

func TestParse_BareNumberInRange(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("make it 40", "brightness")
	if !ok || !v.IsScalar {
		t.Fatalf("expected a scalar parse, got %+v ok=%v", v, ok)
	}
	if v.Scalar != 40 {
		t.Errorf("expected 40, got %v", v.Scalar)
	}
	if v.Confidence != valueConfidenceBare {
		t.Errorf("in-range bare number should score %.1f, got %.2f", valueConfidenceBare, v.Confidence)
	}
}

func TestParse_BareNumberOutOfRange(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("set it to 150", "brightness")
	if !ok || !v.IsScalar {
		t.Fatal("expected a scalar parse")
	}
	if v.Confidence != valueConfidenceAmbiguous {
		t.Errorf("out-of-range number should score %.1f, got %.2f", valueConfidenceAmbiguous, v.Confidence)
	}
}

func TestParse_PercentSuffix(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.Parse("set it to 75%", "contrast")
	if !ok || !v.IsScalar || v.Scalar != 75 {
		t.Fatalf("percent suffix should parse like a bare number, got %+v ok=%v", v, ok)
	}
}

func TestParse_NoNumber(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	if _, ok := p.Parse("set the brightness please", "brightness"); ok {
		t.Error("expected no parse when no number is present")
	}
}

// =============================================================================
// Delta Tests
// =============================================================================

func TestParseDelta(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	cases := []struct {
		text string
		want float64
		ok   bool
	}{
		{"increase the contrast", 10, true},
		{"decrease brightness by 5", -5, true},
		{"raise it by 2.5", 2.5, true},
		{"lower the brightness", -10, true},
		{"set brightness to 40", 0, false},
	}
	for _, tc := range cases {
		got, ok := p.ParseDelta(tc.text)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseDelta(%q) = (%v, %v), want (%v, %v)", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

// =============================================================================
// Loose Number Tests
// =============================================================================

func TestNumbers(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	nums := p.Numbers("4 and 11.5")
	if len(nums) != 2 || nums[0] != 4 || nums[1] != 11.5 {
		t.Errorf("expected [4 11.5], got %v", nums)
	}
}

func TestAssignDimensionPair(t *testing.T) {
	p := NewValueParser(&testConfig(t).Ranges)

	v, ok := p.AssignDimensionPair("implants", 11.5, 4)
	if !ok {
		t.Fatal("expected an assignment")
	}
	if v.Dimensions["height_y_mm"] != 4 || v.Dimensions["length_z_mm"] != 11.5 {
		t.Errorf("expected range-driven reassignment, got %v", v.Dimensions)
	}
}
