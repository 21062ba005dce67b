// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"fmt"
	"strings"

	"github.com/planvr/scenecore/services/scene/config"
)

// =============================================================================
// Canonical Knowledge Tables
// =============================================================================

// Knowledge answers definition and location questions deterministically
// from the entity catalog.
//
// Description:
//
//	Surface forms are matched longest-first so "sinus overlay" wins over
//	"sinus". These canonical answers are preferred over free-text
//	retrieval for the terms the catalog covers; retrieval is the fallback
//	for everything else.
//
// Thread Safety: Safe for concurrent use; reads only immutable catalogs.
type Knowledge struct {
	catalog *config.EntityCatalog
}

// NewKnowledge builds the lookup over the loaded catalog.
func NewKnowledge(catalog *config.EntityCatalog) *Knowledge {
	return &Knowledge{catalog: catalog}
}

// ResolveDefinition returns the canonical definition for the first (i.e.
// longest) catalog term mentioned in the question.
func (k *Knowledge) ResolveDefinition(question string) (string, bool) {
	entity, ok := k.match(question)
	if !ok || entity.Definition == "" {
		return "", false
	}
	return entity.Definition, true
}

// ResolveLocation returns a location sentence for the first catalog term
// mentioned in the question. Entities without location metadata return
// ok=false; the caller supplies the "not specified" wording.
func (k *Knowledge) ResolveLocation(question string) (string, bool) {
	entity, ok := k.match(question)
	if !ok || entity.Location == "" {
		return "", false
	}
	display := strings.ReplaceAll(entity.Name, "_", " ")
	return fmt.Sprintf("The %s is located at the %s.", display, entity.Location), true
}

// match scans surface forms longest-first for a mention in the question.
func (k *Knowledge) match(question string) (config.Entity, bool) {
	lowered := strings.ToLower(question)
	idx := k.catalog.SynonymIndex()
	for _, form := range k.catalog.SurfaceForms() {
		if strings.Contains(lowered, form) {
			return idx[form], true
		}
	}
	return config.Entity{}, false
}
