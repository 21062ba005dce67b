// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/planvr/scenecore/services/scene/config"
)

// =============================================================================
// Clarifier
// =============================================================================

// clarifierTopCandidates caps the candidate list in ambiguity messages.
const clarifierTopCandidates = 5

// Clarifier builds targeted follow-up questions from the entity and range
// catalogs.
//
// Description:
//
//	Every builder corresponds to one missing-signal shape. Specificity
//	strictly increases with the available signal: the generic fallback is
//	used only when no partial signal (number, entity candidate, weak
//	intent) exists at all.
//
// Thread Safety: Safe for concurrent use; reads only immutable catalogs.
type Clarifier struct {
	catalog *config.EntityCatalog
	ranges  *config.RangeCatalog
}

// NewClarifier builds a Clarifier over the loaded catalogs.
func NewClarifier(catalog *config.EntityCatalog, ranges *config.RangeCatalog) *Clarifier {
	return &Clarifier{catalog: catalog, ranges: ranges}
}

// UnplacedValue asks which setting a detected number belongs to, listing
// every value target with its range.
func (c *Clarifier) UnplacedValue(value float64) (string, []string) {
	msg := fmt.Sprintf("I heard the value %s but not which setting to change. Which one did you mean?", formatNumber(value))
	return msg, c.valueTargetOptions()
}

// ValueMissing asks for the specific range-bounded value of a resolved
// target.
func (c *Clarifier) ValueMissing(target string) (string, []string) {
	r := c.ranges.Target(target)
	msg := fmt.Sprintf("What value should %s be set to? Please give a number between %s and %s.",
		displayName(target), formatNumber(r.Min), formatNumber(r.Max))
	return msg, []string{fmt.Sprintf("%s (%s-%s)", target, formatNumber(r.Min), formatNumber(r.Max))}
}

// DeltaRequest handles relative increase/decrease commands, which need an
// absolute value since no current-value register exists here.
func (c *Clarifier) DeltaRequest(target string, delta float64) (string, []string) {
	r := c.ranges.Target(target)
	direction := "increase"
	if delta < 0 {
		direction = "decrease"
	}
	msg := fmt.Sprintf("I can't %s %s relative to its current value. Please give an absolute value between %s and %s.",
		direction, displayName(target), formatNumber(r.Min), formatNumber(r.Max))
	return msg, []string{fmt.Sprintf("%s (%s-%s)", target, formatNumber(r.Min), formatNumber(r.Max))}
}

// AmbiguousSwitch lists the top entity candidates plus the known switch
// names for a weak control intent.
func (c *Clarifier) AmbiguousSwitch(candidates []EntityCandidate) (string, []string) {
	options := candidateNames(candidates, clarifierTopCandidates)
	for _, name := range c.switchNames() {
		options = appendUnique(options, name)
	}
	return "Which element would you like to switch? I can control these:", options
}

// AmbiguousInfo lists the top entity candidates for a weak info intent.
func (c *Clarifier) AmbiguousInfo(candidates []EntityCandidate) (string, []string) {
	return "Which element are you asking about?", candidateNames(candidates, clarifierTopCandidates)
}

// AmbiguousValueTarget names the plausible value targets when a number
// was detected but more than one target was mentioned.
func (c *Clarifier) AmbiguousValueTarget(value float64, targets []string) (string, []string) {
	options := make([]string, 0, len(targets))
	for _, t := range targets {
		r := c.ranges.Target(t)
		options = append(options, fmt.Sprintf("%s (%s-%s)", t, formatNumber(r.Min), formatNumber(r.Max)))
	}
	msg := fmt.Sprintf("Should %s apply to %s?", formatNumber(value), joinOr(targets))
	return msg, options
}

// DualMeaning is the binary clarification for a phrase with two valid
// readings.
func (c *Clarifier) DualMeaning() (string, []string) {
	return "Do you want me to turn on the implants view, or explain what implants are?",
		[]string{"turn on overlay", "give definition"}
}

// SizeRequest names the two expected implant dimensions with their ranges
// and a worked example.
func (c *Clarifier) SizeRequest(target string) (string, []string) {
	names := c.ranges.DimensionNames(target)
	options := make([]string, 0, len(names))
	for _, dim := range names {
		if r, ok := c.ranges.Dimension(target, dim); ok {
			options = append(options, fmt.Sprintf("%s (%s-%s)", dim, formatNumber(r.Min), formatNumber(r.Max)))
		}
	}
	msg := "Which implant size would you like? Give height and length, for example \"4 x 11.5\"."
	return msg, options
}

// Generic is the last-resort fallback when no partial signal exists.
func (c *Clarifier) Generic() (string, []string) {
	options := c.valueTargetOptions()
	for _, name := range c.switchNames() {
		options = appendUnique(options, name)
	}
	return "I didn't catch that. Please name a scene element or a value to set.", options
}

// switchNames returns the switch target names in a stable order, so the
// same input always yields the same clarification.
func (c *Clarifier) switchNames() []string {
	names := make([]string, 0, len(c.catalog.SwitchTargets()))
	for name := range c.catalog.SwitchTargets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// valueTargetOptions lists every value target with its declared range.
func (c *Clarifier) valueTargetOptions() []string {
	var options []string
	for _, e := range c.catalog.ByType(config.EntityTypeValue) {
		r := c.ranges.Target(e.Name)
		options = append(options, fmt.Sprintf("%s (%s-%s)", e.Name, formatNumber(r.Min), formatNumber(r.Max)))
	}
	return options
}

// =============================================================================
// Helpers
// =============================================================================

func candidateNames(candidates []EntityCandidate, limit int) []string {
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = appendUnique(out, c.Name)
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	out := ""
	for i, item := range items {
		switch {
		case i == 0:
			out = item
		case i == len(items)-1:
			out += " or " + item
		default:
			out += ", " + item
		}
	}
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func displayName(target string) string {
	return strings.ReplaceAll(target, "_", " ")
}
