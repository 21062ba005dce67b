// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

// =============================================================================
// Intent Configuration Types
// =============================================================================

// Intent labels. The label set is closed and configuration-declared; these
// constants name the labels the router branches on. LabelNone with
// confidence 0 denotes "no signal".
const (
	LabelControlOn      = "control_on"
	LabelControlOff     = "control_off"
	LabelControlValue   = "control_value"
	LabelInfoDefinition = "info_definition"
	LabelInfoLocation   = "info_location"
	LabelSizeRequest    = "size_request"
	LabelNone           = "none"
)

// Thresholds are the confidence gates the router arbitrates with.
//
// Description:
//
//	Every threshold lies in [0,1]; the loader validates this and fails fast
//	on malformed values. RouterCutoff is the minimum combined confidence
//	below which a clarification is forced.
type Thresholds struct {
	// Intent is the minimum classifier confidence to accept a label
	// without escalating to the fuzzy or oracle tie-breaks.
	Intent float64 `yaml:"intent_confidence" validate:"gte=0,lte=1"`

	// Entity is the minimum resolver confidence to bind an entity.
	Entity float64 `yaml:"entity_confidence" validate:"gte=0,lte=1"`

	// Value is the minimum parser confidence to accept a numeric value.
	Value float64 `yaml:"value_confidence" validate:"gte=0,lte=1"`

	// RouterCutoff forces a clarification when the combined confidence
	// falls below it.
	RouterCutoff float64 `yaml:"router_cutoff" validate:"gte=0,lte=1"`

	// DualMeaning bounds the short-circuit for utterances with two valid
	// readings ("show me the implants"): below it, ask; at or above it,
	// trust the classifier.
	DualMeaning float64 `yaml:"dual_meaning" validate:"gte=0,lte=1"`
}

// TieBreak configures the optional external text-completion tie-break.
type TieBreak struct {
	// Enabled gates the oracle call. When false the classifier stops after
	// the fuzzy phase.
	Enabled bool `yaml:"enabled"`

	// Prompt is the system prompt template; the declared label set is
	// appended so the oracle is constrained to return exactly one label.
	Prompt string `yaml:"prompt"`
}

// IntentConfig declares the closed label set, the phrase rules per label,
// the confidence thresholds, and the tie-break settings.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type IntentConfig struct {
	// Labels is the closed label set. "none" need not be declared.
	Labels []string `yaml:"labels" validate:"required,min=1"`

	// Phrases maps each label to its trigger phrase list. Off-phrases are
	// evaluated before on-phrases to avoid same-text collisions
	// ("turn off" contains no "turn on", but "switch off"/"switch on" share
	// a prefix with sloppy matching).
	Phrases map[string][]string `yaml:"phrases" validate:"required"`

	// TargetCues are words whose presence confirms a control phrase refers
	// to a scene element rather than small talk ("stop" alone is not a
	// control request).
	TargetCues []string `yaml:"target_cues"`

	// Thresholds are the router's confidence gates.
	Thresholds Thresholds `yaml:"thresholds"`

	// TieBreak configures the external-oracle fallback.
	TieBreak TieBreak `yaml:"tie_break"`
}

// HasLabel reports whether the label belongs to the declared set. The
// implicit "none" label is not declared and reports false.
func (c *IntentConfig) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// =============================================================================
// Retrieval Configuration Types
// =============================================================================

// HybridWeights are the fusion weights for the hybrid retriever.
// They need not sum to 1; fused scores are only compared to each other.
type HybridWeights struct {
	Semantic float64 `yaml:"semantic" validate:"gte=0"`
	Lexical  float64 `yaml:"lexical" validate:"gte=0"`
}

// TopK bounds the candidate counts per retrieval phase.
type TopK struct {
	Semantic int `yaml:"semantic" validate:"gt=0"`
	Lexical  int `yaml:"lexical" validate:"gt=0"`
	Final    int `yaml:"final" validate:"gt=0"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	Weights HybridWeights `yaml:"hybrid_weights"`
	TopK    TopK          `yaml:"top_k"`

	// MaxContextChars caps the assembled context handed to the chat oracle.
	MaxContextChars int `yaml:"max_context_chars" validate:"gt=0"`

	// LexicalWindow bounds the recent-chunk scan for lexical scoring.
	LexicalWindow int `yaml:"lexical_window" validate:"gt=0"`
}
