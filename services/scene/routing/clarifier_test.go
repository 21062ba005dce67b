// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"strings"
	"testing"

	"github.com/planvr/scenecore/services/scene/config"
)

// =============================================================================
// Clarification Message Tests
// =============================================================================

func TestValueMissing_RendersRangeAndTarget(t *testing.T) {
	cfg := testConfig(t)
	c := NewClarifier(&cfg.Catalog, &cfg.Ranges)

	msg, options := c.ValueMissing("brightness")
	if !strings.Contains(msg, "brightness") {
		t.Fatalf("message does not name the target: %q", msg)
	}
	if !strings.Contains(msg, "between 0 and 100") {
		t.Fatalf("message does not carry the range: %q", msg)
	}
	if len(options) != 1 || options[0] != "brightness (0-100)" {
		t.Fatalf("unexpected options: %v", options)
	}
}

func TestValueMissing_UnderscoresBecomeSpaces(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ranges.Targets["field_of_view"] = config.Range{Min: 30, Max: 120}
	c := NewClarifier(&cfg.Catalog, &cfg.Ranges)

	msg, _ := c.ValueMissing("field_of_view")
	if !strings.Contains(msg, "field of view") {
		t.Fatalf("target name not humanized: %q", msg)
	}
	if strings.Contains(msg, "field_of_view") {
		t.Fatalf("raw target name leaked into the prompt: %q", msg)
	}
}

func TestGeneric_OptionsAreStable(t *testing.T) {
	cfg := testConfig(t)
	c := NewClarifier(&cfg.Catalog, &cfg.Ranges)

	_, first := c.Generic()
	for i := 0; i < 5; i++ {
		_, again := c.Generic()
		if len(again) != len(first) {
			t.Fatalf("option count changed: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("option order changed at %d: %q vs %q", j, again[j], first[j])
			}
		}
	}
}
