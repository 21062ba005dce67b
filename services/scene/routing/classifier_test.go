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
	"testing"

	"github.com/planvr/scenecore/services/scene/config"
)

// stubOracle returns a canned reply or error for every call.
type stubOracle struct {
	reply string
	err   error
	calls int
}

func (s *stubOracle) Complete(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func newTestClassifier(t *testing.T, oracle Oracle) *IntentClassifier {
	t.Helper()
	cfg := testConfig(t)
	return NewIntentClassifier(&cfg.Intent, &cfg.Catalog, oracle, nil)
}

// =============================================================================
// Rule Layer Tests
// =============================================================================

func TestClassify_RuleLayer(t *testing.T) {
	c := newTestClassifier(t, nil)
	ctx := context.Background()

	cases := []struct {
		text  string
		label string
	}{
		{"turn on handles", config.LabelControlOn},
		{"turn off the handles", config.LabelControlOff},
		{"enable the nerve overlay", config.LabelControlOn},
		{"hide the sinus overlay", config.LabelControlOff},
		{"set brightness to 40", config.LabelControlValue},
		{"what is the xray flashlight", config.LabelInfoDefinition},
		{"where is the menu bar", config.LabelInfoLocation},
	}
	for _, tc := range cases {
		label, conf := c.Classify(ctx, tc.text)
		if label != tc.label {
			t.Errorf("Classify(%q) = %q, want %q", tc.text, label, tc.label)
		}
		if conf < 0.6 {
			t.Errorf("Classify(%q) confidence %.2f below threshold", tc.text, conf)
		}
	}
}

func TestClassify_OffBeforeOn(t *testing.T) {
	c := newTestClassifier(t, nil)

	// "switch off" contains no on-phrase, but the off list must win even
	// though both lists carry "switch ..." prefixes.
	label, _ := c.Classify(context.Background(), "switch off the xray flashlight")
	if label != config.LabelControlOff {
		t.Errorf("expected control_off, got %q", label)
	}
}

func TestClassify_BarePhraseIsWeak(t *testing.T) {
	c := newTestClassifier(t, nil)

	// "stop" with no scene element mentioned must not be a confident
	// control intent.
	_, conf := c.Classify(context.Background(), "stop")
	if conf >= 0.6 {
		t.Errorf("bare control phrase should stay below the intent threshold, got %.2f", conf)
	}
}

func TestClassify_NoSignal(t *testing.T) {
	c := newTestClassifier(t, nil)

	label, conf := c.Classify(context.Background(), "asdkjh")
	if label != config.LabelNone || conf != 0 {
		t.Errorf("expected (none, 0), got (%q, %.2f)", label, conf)
	}
}

// =============================================================================
// Fuzzy Layer Tests
// =============================================================================

func TestClassify_FuzzyTypo(t *testing.T) {
	c := newTestClassifier(t, nil)

	// "tunr on" is one transposition from "turn on"; no rule matches but
	// the fuzzy layer should recover the label.
	label, conf := c.Classify(context.Background(), "tunr on the handles")
	if label != config.LabelControlOn {
		t.Errorf("expected control_on from fuzzy layer, got %q (conf %.2f)", label, conf)
	}
	if conf < fuzzyAcceptRatio {
		t.Errorf("fuzzy confidence %.2f below accept ratio", conf)
	}
}

// =============================================================================
// Oracle Layer Tests
// =============================================================================

func TestClassify_OracleTieBreak(t *testing.T) {
	oracle := &stubOracle{reply: "info_definition"}
	c := newTestClassifier(t, oracle)

	label, conf := c.Classify(context.Background(), "hmm those implants")
	if oracle.calls == 0 {
		t.Fatal("expected the oracle to be consulted for a low-signal utterance")
	}
	if label != config.LabelInfoDefinition {
		t.Errorf("expected the oracle's label, got %q", label)
	}
	if conf < 0.6 {
		t.Errorf("accepted oracle label should meet the intent threshold, got %.2f", conf)
	}
}

func TestClassify_OracleErrorSwallowed(t *testing.T) {
	oracle := &stubOracle{err: errors.New("connection refused")}
	c := newTestClassifier(t, oracle)

	label, conf := c.Classify(context.Background(), "qwerty asdf")
	if label != config.LabelNone || conf != 0 {
		t.Errorf("oracle failure must degrade to (none, 0), got (%q, %.2f)", label, conf)
	}
}

func TestClassify_OracleUnknownLabelRejected(t *testing.T) {
	oracle := &stubOracle{reply: "made_up_label"}
	c := newTestClassifier(t, oracle)

	label, _ := c.Classify(context.Background(), "qwerty asdf")
	if label != config.LabelNone {
		t.Errorf("labels outside the declared set must be rejected, got %q", label)
	}
}
