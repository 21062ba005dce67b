// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"sort"
	"strings"
)

// =============================================================================
// Entity Catalog Types
// =============================================================================

// Entity type discriminators. The validator and the router key behavior off
// these, so they are part of the configuration contract.
const (
	EntityTypeSwitch  = "switch"
	EntityTypeValue   = "value"
	EntityTypeImplant = "implant"
	EntityTypeModel   = "model"
	EntityTypeScene   = "scene"
)

// Range is a closed numeric interval. Min must be strictly below Max; the
// loader rejects catalogs that violate this.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies inside the range (inclusive).
func (r Range) Contains(v float64) bool {
	return r.Min <= v && v <= r.Max
}

// Entity describes one addressable scene element.
//
// Description:
//
//	The canonical Name is the stable identifier downstream validators key on;
//	Synonyms are alternate surface forms users say. Definition and Location
//	feed the info-intent answers. Range is only set for value-type entities.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Entity struct {
	// Name is the canonical entity name (e.g. "show_sinus").
	Name string `yaml:"name" validate:"required"`

	// Type is one of switch|value|implant|model|scene.
	Type string `yaml:"type" validate:"required,oneof=switch value implant model scene"`

	// Synonyms are lowercase surface forms that resolve to Name.
	Synonyms []string `yaml:"synonyms"`

	// Definition is a concise description suitable for UI/voice.
	Definition string `yaml:"definition"`

	// Location is the element's place in the scene ("left", "center", ...).
	Location string `yaml:"location"`

	// Range bounds the numeric control surface for value-type entities.
	Range *Range `yaml:"range"`
}

// EntityCatalog is the configuration-declared list of scene entities.
type EntityCatalog struct {
	Entities []Entity `yaml:"entities" validate:"required,dive"`
}

// Find returns the entity with the given canonical name.
func (c *EntityCatalog) Find(name string) (Entity, bool) {
	for _, e := range c.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// ByType returns all entities of the given type, in declaration order.
func (c *EntityCatalog) ByType(entityType string) []Entity {
	var out []Entity
	for _, e := range c.Entities {
		if e.Type == entityType {
			out = append(out, e)
		}
	}
	return out
}

// SwitchTargets returns the canonical names of all switch-type entities.
func (c *EntityCatalog) SwitchTargets() map[string]bool {
	out := make(map[string]bool)
	for _, e := range c.Entities {
		if e.Type == EntityTypeSwitch {
			out[e.Name] = true
		}
	}
	return out
}

// SynonymIndex returns every surface form (canonical names included) mapped
// to its entity, longest form first when iterated via SurfaceForms.
func (c *EntityCatalog) SynonymIndex() map[string]Entity {
	idx := make(map[string]Entity)
	for _, e := range c.Entities {
		idx[strings.ToLower(e.Name)] = e
		for _, s := range e.Synonyms {
			idx[strings.ToLower(s)] = e
		}
	}
	return idx
}

// SurfaceForms returns all known surface forms sorted longest-first.
// Longest-first matching avoids partial hits ("sinus" shadowing "sinus
// overlay") when scanning free text.
func (c *EntityCatalog) SurfaceForms() []string {
	idx := c.SynonymIndex()
	forms := make([]string, 0, len(idx))
	for f := range idx {
		forms = append(forms, f)
	}
	sort.Slice(forms, func(i, j int) bool {
		if len(forms[i]) != len(forms[j]) {
			return len(forms[i]) > len(forms[j])
		}
		return forms[i] < forms[j]
	})
	return forms
}

// =============================================================================
// Range Catalog Types
// =============================================================================

// RangeCatalog declares the valid numeric interval per controllable target.
//
// Targets holds scalar ranges (brightness, contrast). Dimensions holds the
// nested per-dimension ranges of multi-dimension targets (implants).
type RangeCatalog struct {
	Targets    map[string]Range            `yaml:"targets" validate:"required"`
	Dimensions map[string]map[string]Range `yaml:"dimensions"`
}

// Target returns the scalar range for a target, with the conventional
// 0-100 fallback when the target is not declared.
func (c *RangeCatalog) Target(name string) Range {
	if r, ok := c.Targets[name]; ok {
		return r
	}
	return Range{Min: 0, Max: 100}
}

// Dimension returns the declared range for one dimension of a
// multi-dimension target.
func (c *RangeCatalog) Dimension(target, dim string) (Range, bool) {
	dims, ok := c.Dimensions[target]
	if !ok {
		return Range{}, false
	}
	r, ok := dims[dim]
	return r, ok
}

// DimensionNames returns the declared dimension names for a target in the
// declaration order of the embedded catalog. Declaration order matters: the
// value parser assigns ambiguous two-number inputs to the first declared
// role.
func (c *RangeCatalog) DimensionNames(target string) []string {
	dims, ok := c.Dimensions[target]
	if !ok {
		return nil
	}
	// YAML maps do not preserve order; the conventional dimension order is
	// height before length. Any other dimensions sort alphabetically after.
	var names []string
	for _, preferred := range []string{"height_y_mm", "length_z_mm"} {
		if _, ok := dims[preferred]; ok {
			names = append(names, preferred)
		}
	}
	var rest []string
	for n := range dims {
		if n != "height_y_mm" && n != "length_z_mm" {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
