// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed entities.yaml
var defaultEntitiesYAML []byte

//go:embed ranges.yaml
var defaultRangesYAML []byte

//go:embed intent.yaml
var defaultIntentYAML []byte

//go:embed retrieval.yaml
var defaultRetrievalYAML []byte

// MaxYAMLFileSize caps config file reads to keep a corrupted or hostile
// override file from exhausting memory.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

var configTracer = otel.Tracer("scenecore/config")

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Aggregate Configuration
// =============================================================================

// Config aggregates every loaded configuration surface.
//
// Description:
//
//	One Config instance is built at startup from the embedded defaults,
//	optionally overridden per-file from a config directory, validated, and
//	then treated as immutable. Hot reload swaps the whole pointer via Store.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Catalog   EntityCatalog   `yaml:"-"`
	Ranges    RangeCatalog    `yaml:"-"`
	Intent    IntentConfig    `yaml:"-"`
	Retrieval RetrievalConfig `yaml:"-"`
}

// The per-file override names Load looks for inside a config directory.
const (
	entitiesFile  = "entities.yaml"
	rangesFile    = "ranges.yaml"
	intentFile    = "intent.yaml"
	retrievalFile = "retrieval.yaml"
)

// Load builds a validated Config from the embedded defaults, overridden
// per-file by any matching YAML files found in dir.
//
// Description:
//
//	Each configuration surface loads independently: a directory that only
//	contains ranges.yaml overrides ranges and keeps the embedded defaults
//	for everything else. An empty dir loads pure defaults. Any parse or
//	validation failure aborts the whole load; a half-applied config never
//	escapes.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	dir - Optional config directory. Empty string means defaults only.
//
// Outputs:
//
//	*Config - The validated configuration. Never nil on success.
//	error - Non-nil if reading, parsing, or validation failed.
//
// Thread Safety: Safe for concurrent use.
func Load(ctx context.Context, dir string) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("config.Load: ctx must not be nil")
	}

	_, span := configTracer.Start(ctx, "config.Load")
	defer span.End()

	cfg := &Config{}

	if err := loadSurface(dir, entitiesFile, defaultEntitiesYAML, &cfg.Catalog); err != nil {
		return nil, fmt.Errorf("config.Load: entities: %w", err)
	}
	if err := loadSurface(dir, rangesFile, defaultRangesYAML, &cfg.Ranges); err != nil {
		return nil, fmt.Errorf("config.Load: ranges: %w", err)
	}
	if err := loadSurface(dir, intentFile, defaultIntentYAML, &cfg.Intent); err != nil {
		return nil, fmt.Errorf("config.Load: intent: %w", err)
	}
	if err := loadSurface(dir, retrievalFile, defaultRetrievalYAML, &cfg.Retrieval); err != nil {
		return nil, fmt.Errorf("config.Load: retrieval: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("entities", len(cfg.Catalog.Entities)),
		attribute.Int("intent_labels", len(cfg.Intent.Labels)),
		attribute.String("dir", dir),
	)

	slog.Info("scene config loaded",
		slog.Int("entities", len(cfg.Catalog.Entities)),
		slog.Int("intent_labels", len(cfg.Intent.Labels)),
		slog.String("dir", dir),
	)

	return cfg, nil
}

// loadSurface unmarshals one configuration surface from its override file
// when present, otherwise from its embedded default.
func loadSurface(dir, name string, fallback []byte, out any) error {
	data := fallback
	if dir != "" {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil {
			if info.Size() > MaxYAMLFileSize {
				return fmt.Errorf("%s exceeds maximum size (%d > %d)", name, info.Size(), MaxYAMLFileSize)
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", name, err)
			}
			data = b
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: empty YAML data", name)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// applyDefaults fills zero-valued tunables so a sparse override file does
// not silently disable a surface.
func applyDefaults(cfg *Config) {
	t := &cfg.Intent.Thresholds
	if t.Intent <= 0 {
		t.Intent = 0.6
	}
	if t.Entity <= 0 {
		t.Entity = 0.5
	}
	if t.Value <= 0 {
		t.Value = 0.5
	}
	if t.RouterCutoff <= 0 {
		t.RouterCutoff = 0.45
	}
	if t.DualMeaning <= 0 {
		t.DualMeaning = 0.7
	}

	r := &cfg.Retrieval
	if r.Weights.Semantic <= 0 && r.Weights.Lexical <= 0 {
		r.Weights.Semantic = 0.7
		r.Weights.Lexical = 0.3
	}
	if r.TopK.Semantic <= 0 {
		r.TopK.Semantic = 10
	}
	if r.TopK.Lexical <= 0 {
		r.TopK.Lexical = 5
	}
	if r.TopK.Final <= 0 {
		r.TopK.Final = 8
	}
	if r.MaxContextChars <= 0 {
		r.MaxContextChars = 3500
	}
	if r.LexicalWindow <= 0 {
		r.LexicalWindow = 500
	}
}

// Validate checks a Config for structural and semantic consistency.
//
// Description:
//
//	Runs struct-tag validation first, then the cross-field checks the tags
//	cannot express: range ordering, phrase coverage of the label set, and
//	dimension declarations matching catalog entities.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}

	for _, s := range []any{cfg.Catalog, cfg.Ranges, cfg.Intent, cfg.Retrieval} {
		if err := structValidator.Struct(s); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(cfg.Catalog.Entities))
	for i, e := range cfg.Catalog.Entities {
		if seen[e.Name] {
			return fmt.Errorf("entities[%d]: duplicate entity name %q", i, e.Name)
		}
		seen[e.Name] = true
		if e.Range != nil && e.Range.Min >= e.Range.Max {
			return fmt.Errorf("entities[%d] (%s): range min must be below max", i, e.Name)
		}
	}

	for name, r := range cfg.Ranges.Targets {
		if r.Min >= r.Max {
			return fmt.Errorf("ranges.targets[%s]: min must be below max", name)
		}
	}
	for target, dims := range cfg.Ranges.Dimensions {
		if !seen[target] {
			return fmt.Errorf("ranges.dimensions[%s]: unknown entity", target)
		}
		if len(dims) == 0 {
			return fmt.Errorf("ranges.dimensions[%s]: must declare at least one dimension", target)
		}
		for dim, r := range dims {
			if r.Min >= r.Max {
				return fmt.Errorf("ranges.dimensions[%s][%s]: min must be below max", target, dim)
			}
		}
	}

	for _, label := range cfg.Intent.Labels {
		if label == LabelNone {
			return fmt.Errorf("intent.labels: %q is implicit and must not be declared", LabelNone)
		}
		if len(cfg.Intent.Phrases[label]) == 0 {
			return fmt.Errorf("intent.phrases[%s]: must declare at least one phrase", label)
		}
	}
	for label := range cfg.Intent.Phrases {
		if !cfg.Intent.HasLabel(label) {
			return fmt.Errorf("intent.phrases[%s]: label not declared", label)
		}
	}

	w := cfg.Retrieval.Weights
	if w.Semantic+w.Lexical <= 0 {
		return fmt.Errorf("retrieval.hybrid_weights: at least one weight must be positive")
	}

	return nil
}

// =============================================================================
// Live Configuration Store
// =============================================================================

// Store holds the live Config and supports atomic swap on reload.
//
// Description:
//
//	Readers call Get on every use instead of caching the pointer, so a
//	hot reload takes effect on the next operation. A failed reload keeps
//	the previous Config in place.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	dir string
	cfg *Config
}

// NewStore loads the initial Config and wraps it in a Store.
func NewStore(ctx context.Context, dir string) (*Store, error) {
	cfg, err := Load(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, cfg: cfg}, nil
}

// Get returns the current Config. The returned pointer is immutable.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-runs Load against the store's directory and swaps the live
// Config on success. On failure the previous Config stays active.
func (s *Store) Reload(ctx context.Context) error {
	cfg, err := Load(ctx, s.dir)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", slog.String("error", err.Error()))
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	slog.Info("config reloaded", slog.String("dir", s.dir))
	return nil
}
