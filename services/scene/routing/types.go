// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routing turns free-text utterances into routed decisions: a
// validated control action, a direct informational answer, or a targeted
// clarification. It combines independently uncertain signals (intent label,
// canonical entity, numeric value) under configured confidence thresholds.
package routing

import (
	"github.com/planvr/scenecore/services/scene/control"
)

// =============================================================================
// Decision Types
// =============================================================================

// Decision type discriminators.
const (
	DecisionToolAction    = "tool_action"
	DecisionAnswer        = "answer"
	DecisionClarification = "clarification"
	DecisionSizeRequest   = "size_request"
)

// Confidence is the {intent, entity, value} breakdown attached to every
// decision. It is part of the routing contract, not incidental telemetry;
// downstream logging and threshold audits key on it.
type Confidence struct {
	Intent float64 `json:"intent"`
	Entity float64 `json:"entity"`
	Value  float64 `json:"value"`
}

// Decision is the single tagged result of one routing call.
//
// Description:
//
//	Type selects the variant; the other fields are populated per variant.
//	tool_action carries Tool+Arguments, answer carries Text (+ContextUsed
//	when retrieval fed it), clarification and size_request carry Message
//	and Clarifications. Confidence is the full triple on every variant.
type Decision struct {
	Type string `json:"type"`

	// tool_action fields.
	Tool      string        `json:"tool,omitempty"`
	Arguments *control.Args `json:"arguments,omitempty"`

	// answer fields.
	Text        string `json:"text,omitempty"`
	ContextUsed bool   `json:"context_used,omitempty"`

	// clarification / size_request fields.
	Message        string   `json:"message,omitempty"`
	Clarifications []string `json:"clarifications,omitempty"`

	Confidence Confidence `json:"confidence"`
}

// =============================================================================
// Leaf Result Types
// =============================================================================

// EntityCandidate is one ranked entity match. Name is the canonical name
// downstream validators key on, never the raw matched synonym.
type EntityCandidate struct {
	Name       string
	Confidence float64
	Type       string
	Definition string
	Location   string
}

// ParsedValue is a parsed numeric signal: either a scalar or a
// named-dimension mapping, never both.
type ParsedValue struct {
	Scalar     float64
	Dimensions map[string]float64
	IsScalar   bool
	Confidence float64
}

// Exchange is one prior (user, response) pair from the session history
// window handed to Route for context-sensitive rules.
type Exchange struct {
	User     string `json:"user"`
	Response string `json:"response"`
}
