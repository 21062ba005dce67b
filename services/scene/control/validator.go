// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package control validates proposed scene-control actions against the
// entity and range catalogs before they reach the VR client.
package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/planvr/scenecore/services/scene/config"
)

// =============================================================================
// Tool Action Arguments
// =============================================================================

// Operation values accepted by the validator.
const (
	OpSet    = "set"
	OpToggle = "toggle"
)

// Hand values accepted by the validator.
const (
	HandLeft  = "left"
	HandRight = "right"
	HandNone  = "none"
)

// Args are the arguments of a proposed control action.
//
// Description:
//
//	Value is polymorphic by target type: "on"/"off"/"toggle" strings for
//	switch targets, a number (float64 or numeric string) for value targets,
//	and for the implant target either "on"/"off" or a dimension map like
//	{"height_y_mm": 4.0, "length_z_mm": 11.5}.
type Args struct {
	Hand      string `json:"hand"`
	Target    string `json:"target"`
	Operation string `json:"operation"`
	Value     any    `json:"value,omitempty"`
}

// =============================================================================
// Validator
// =============================================================================

// Validator enforces the domain constraints on proposed actions.
//
// Description:
//
//	Violations come back as plain error strings naming exactly which
//	constraint failed; callers pattern-match on substrings to build
//	tailored clarifications, so the wording here is part of the contract.
//
// Thread Safety: Safe for concurrent use; reads only immutable catalogs.
type Validator struct {
	catalog *config.EntityCatalog
	ranges  *config.RangeCatalog
}

// NewValidator builds a Validator over the loaded catalogs.
func NewValidator(catalog *config.EntityCatalog, ranges *config.RangeCatalog) *Validator {
	return &Validator{catalog: catalog, ranges: ranges}
}

// Validate checks and normalizes a proposed action.
//
// Description:
//
//	Enforces, in order: hand membership, target presence and existence,
//	operation membership, the left-hand restriction, and the per-type
//	value constraints. Values are normalized (numeric strings to floats,
//	casing lowered) in the returned copy; the input is not mutated.
//
// Outputs:
//
//	Args - The normalized arguments. Zero value when err is non-nil.
//	error - A structured constraint message, or nil when valid.
func (v *Validator) Validate(args Args) (Args, error) {
	out := Args{
		Hand:      strings.ToLower(strings.TrimSpace(args.Hand)),
		Target:    strings.ToLower(strings.TrimSpace(args.Target)),
		Operation: strings.ToLower(strings.TrimSpace(args.Operation)),
		Value:     args.Value,
	}

	switch out.Hand {
	case HandLeft, HandRight, HandNone:
	default:
		return Args{}, fmt.Errorf("invalid hand")
	}

	if out.Target == "" {
		return Args{}, fmt.Errorf("target required")
	}

	entity, known := v.catalog.Find(out.Target)
	if !known {
		return Args{}, fmt.Errorf("unknown target")
	}

	if out.Operation != OpSet && out.Operation != OpToggle {
		return Args{}, fmt.Errorf("operation must be 'set' or 'toggle'")
	}

	// The left hand is reserved for the anatomical model; every other
	// controllable target belongs to the right hand or no hand.
	if out.Hand == HandLeft && entity.Type != config.EntityTypeModel {
		return Args{}, fmt.Errorf("left hand cannot control this target")
	}

	switch entity.Type {
	case config.EntityTypeSwitch:
		val, err := v.validateSwitchValue(out.Operation, out.Value)
		if err != nil {
			return Args{}, err
		}
		out.Value = val

	case config.EntityTypeValue:
		val, err := v.validateNumericValue(out.Target, out.Value)
		if err != nil {
			return Args{}, err
		}
		out.Value = val

	case config.EntityTypeImplant:
		val, err := v.validateImplantValue(out.Target, out.Operation, out.Value)
		if err != nil {
			return Args{}, err
		}
		out.Value = val
	}

	return out, nil
}

// validateSwitchValue enforces on/off semantics for switch targets.
func (v *Validator) validateSwitchValue(operation string, value any) (any, error) {
	if operation == OpToggle {
		return OpToggle, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("value must be 'on' or 'off'")
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s != "on" && s != "off" {
		return nil, fmt.Errorf("value must be 'on' or 'off'")
	}
	return s, nil
}

// validateNumericValue enforces range membership for value targets.
func (v *Validator) validateNumericValue(target string, value any) (any, error) {
	n, ok := asNumber(value)
	if !ok {
		return nil, fmt.Errorf("value must be a number")
	}
	r := v.ranges.Target(target)
	if !r.Contains(n) {
		return nil, fmt.Errorf("value out of range (%s-%s)", formatBound(r.Min), formatBound(r.Max))
	}
	return n, nil
}

// validateImplantValue accepts on/off or a per-dimension size object.
func (v *Validator) validateImplantValue(target, operation string, value any) (any, error) {
	if operation == OpToggle {
		return OpToggle, nil
	}

	if s, ok := value.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "on" || s == "off" {
			return s, nil
		}
		return nil, fmt.Errorf("implants value must be 'on' or 'off' or size object")
	}

	dims, ok := asDimensionMap(value)
	if !ok {
		return nil, fmt.Errorf("implants value must be 'on' or 'off' or size object")
	}

	normalized := make(map[string]float64, len(dims))
	for dim, n := range dims {
		r, declared := v.ranges.Dimension(target, dim)
		if !declared {
			return nil, fmt.Errorf("implants value must be 'on' or 'off' or size object")
		}
		if !r.Contains(n) {
			return nil, fmt.Errorf("%s out of range (%s-%s)", dim, formatBound(r.Min), formatBound(r.Max))
		}
		normalized[dim] = n
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("implants value must be 'on' or 'off' or size object")
	}
	return normalized, nil
}

// asNumber coerces float64, int, and numeric strings.
func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// asDimensionMap coerces the two map shapes callers produce: typed float
// maps from the parser and any-valued maps from decoded JSON.
func asDimensionMap(value any) (map[string]float64, bool) {
	switch m := value.(type) {
	case map[string]float64:
		return m, len(m) > 0
	case map[string]any:
		out := make(map[string]float64, len(m))
		for k, raw := range m {
			n, ok := asNumber(raw)
			if !ok {
				return nil, false
			}
			out[k] = n
		}
		return out, len(out) > 0
	}
	return nil, false
}

// formatBound renders a range bound without trailing zeros, so a 0-100
// range reads "0-100" and a 4.8 bound reads "4.8".
func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
