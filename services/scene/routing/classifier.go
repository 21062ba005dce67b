// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planvr/scenecore/services/scene/config"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	classifierLayerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenecore",
		Subsystem: "classifier",
		Name:      "layer_total",
		Help:      "Classification outcomes by resolving layer: rule, fuzzy, oracle, none",
	}, []string{"layer"})

	classifierOracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scenecore",
		Subsystem: "classifier",
		Name:      "oracle_latency_seconds",
		Help:      "Latency of tie-break oracle calls",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 3.0, 5.0},
	})
)

var classifierTracer = otel.Tracer("scenecore.routing.classifier")

// =============================================================================
// Intent Classifier
// =============================================================================

// Rule-layer confidences. A phrase hit that also mentions a known target
// is near-certain; a bare phrase hit is weak enough to trigger the
// escalation layers.
const (
	ruleConfidenceStrong = 0.9
	ruleConfidenceWeak   = 0.5
)

// fuzzyAcceptRatio is the minimum partial-match ratio the fuzzy layer
// accepts as an opinion.
const fuzzyAcceptRatio = 0.70

// oracleTimeout bounds the tie-break call; classification is on the
// utterance hot path.
const oracleTimeout = 5 * time.Second

// Oracle is the external text-completion service used for tie-breaking.
// llm.ChatOracle satisfies it.
type Oracle interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// IntentClassifier maps an utterance to one label from the configured
// closed set, with a confidence.
//
// Description:
//
//	Three escalating layers: deterministic phrase rules, fuzzy partial
//	matching over the same phrase sets, and an optional oracle tie-break
//	constrained to the declared label set. Off-phrases are checked before
//	on-phrases so "switch off" never collides with "switch on". Oracle
//	failures are swallowed and treated as no opinion.
//
// Thread Safety: Safe for concurrent use; reads only immutable config.
type IntentClassifier struct {
	cfg     *config.IntentConfig
	forms   []string // catalog surface forms, longest first
	oracle  Oracle
	logger  *slog.Logger
	ordered []string // labels in evaluation order, off before on
}

// NewIntentClassifier builds a classifier over the loaded intent config.
//
// Inputs:
//
//	cfg - Intent configuration. Must not be nil.
//	catalog - Entity catalog; surface forms count as target mentions.
//	oracle - Tie-break oracle. Nil disables the oracle layer.
//	logger - Logger instance. Nil uses slog.Default().
func NewIntentClassifier(cfg *config.IntentConfig, catalog *config.EntityCatalog, oracle Oracle, logger *slog.Logger) *IntentClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentClassifier{
		cfg:     cfg,
		forms:   catalog.SurfaceForms(),
		oracle:  oracle,
		logger:  logger,
		ordered: orderLabels(cfg.Labels),
	}
}

// orderLabels moves control_off ahead of control_on, keeping the declared
// order otherwise. "turn off" style phrases must win before the broader
// on-phrases ("show", "give me") get a chance.
func orderLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == config.LabelControlOff {
			out = append(out, l)
		}
	}
	for _, l := range labels {
		if l != config.LabelControlOff {
			out = append(out, l)
		}
	}
	return out
}

// Classify returns the best label and confidence for an utterance.
//
// Description:
//
//	Runs the rule layer first; if its confidence clears the configured
//	intent threshold the result is final. When no phrase matched at all
//	the fuzzy layer runs, and if that also falls short and a tie-break
//	oracle is configured,
//	the oracle picks one label from the declared set. The best opinion
//	across layers wins. No-signal returns ("none", 0).
//
// Outputs:
//
//	string - The label, or "none".
//	float64 - Confidence in [0,1]; 0 iff the label is "none".
func (c *IntentClassifier) Classify(ctx context.Context, text string) (string, float64) {
	ctx, span := classifierTracer.Start(ctx, "routing.IntentClassifier.Classify",
		trace.WithAttributes(attribute.Int("text_len", len(text))),
	)
	defer span.End()

	lowered := strings.ToLower(text)

	label, conf := c.ruleMatch(lowered)
	if conf >= c.cfg.Thresholds.Intent {
		classifierLayerTotal.WithLabelValues("rule").Inc()
		span.SetAttributes(attribute.String("label", label), attribute.String("layer", "rule"))
		return label, conf
	}

	// The fuzzy layer only gets a say when no phrase matched exactly.
	// Re-scoring an exact hit would trivially promote a weak bare-phrase
	// match to ratio 1.0 and bypass the escalation it was meant to trigger.
	if label == config.LabelNone {
		if fl, fc := c.fuzzyMatch(lowered); fc > conf {
			label, conf = fl, fc
		}
		if conf >= c.cfg.Thresholds.Intent {
			classifierLayerTotal.WithLabelValues("fuzzy").Inc()
			span.SetAttributes(attribute.String("label", label), attribute.String("layer", "fuzzy"))
			return label, conf
		}
	}

	if ol, oc := c.oracleMatch(ctx, text); oc > conf {
		classifierLayerTotal.WithLabelValues("oracle").Inc()
		span.SetAttributes(attribute.String("label", ol), attribute.String("layer", "oracle"))
		return ol, oc
	}

	if label == config.LabelNone {
		classifierLayerTotal.WithLabelValues("none").Inc()
	}
	span.SetAttributes(attribute.String("label", label), attribute.Float64("confidence", conf))
	return label, conf
}

// ruleMatch runs the deterministic phrase layer.
//
// A phrase hit plus a target mention (cue word or catalog surface form)
// scores ruleConfidenceStrong. Info-intent phrases are unambiguous on
// their own and always score strong. A bare control phrase ("stop" with
// no object) scores weak so the escalation layers get a say.
func (c *IntentClassifier) ruleMatch(lowered string) (string, float64) {
	mentions := c.mentionsTarget(lowered)

	for _, label := range c.ordered {
		for _, phrase := range c.cfg.Phrases[label] {
			if !strings.Contains(lowered, phrase) {
				continue
			}
			if isInfoLabel(label) || mentions {
				return label, ruleConfidenceStrong
			}
			return label, ruleConfidenceWeak
		}
	}
	return config.LabelNone, 0
}

// fuzzyMatch scores every phrase against the utterance with a partial
// ratio and keeps the best label at or above fuzzyAcceptRatio.
func (c *IntentClassifier) fuzzyMatch(lowered string) (string, float64) {
	bestLabel, bestRatio := config.LabelNone, 0.0
	for _, label := range c.ordered {
		for _, phrase := range c.cfg.Phrases[label] {
			if r := partialRatio(phrase, lowered); r > bestRatio {
				bestLabel, bestRatio = label, r
			}
		}
	}
	if bestRatio < fuzzyAcceptRatio {
		return config.LabelNone, 0
	}
	return bestLabel, bestRatio
}

// oracleMatch asks the tie-break oracle to pick exactly one label.
// Any failure, and any reply outside the declared set, is no opinion.
func (c *IntentClassifier) oracleMatch(ctx context.Context, text string) (string, float64) {
	if c.oracle == nil || !c.cfg.TieBreak.Enabled {
		return config.LabelNone, 0
	}

	octx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()

	system := c.cfg.TieBreak.Prompt + "\nLabels: " + strings.Join(c.cfg.Labels, ", ")
	start := time.Now()
	reply, err := c.oracle.Complete(octx, system, text)
	classifierOracleLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("intent tie-break oracle failed",
			slog.String("error", err.Error()),
		)
		return config.LabelNone, 0
	}

	label := strings.ToLower(strings.TrimSpace(reply))
	if label == config.LabelNone || !c.cfg.HasLabel(label) {
		return config.LabelNone, 0
	}
	// The oracle only runs when the deterministic layers are unsure, so
	// its answer is accepted at exactly the intent threshold.
	return label, c.cfg.Thresholds.Intent
}

// mentionsTarget reports whether the utterance names any known scene
// element, via the configured cue words or a catalog surface form.
func (c *IntentClassifier) mentionsTarget(lowered string) bool {
	for _, cue := range c.cfg.TargetCues {
		if strings.Contains(lowered, cue) {
			return true
		}
	}
	for _, form := range c.forms {
		if strings.Contains(lowered, form) {
			return true
		}
	}
	return false
}

func isInfoLabel(label string) bool {
	return label == config.LabelInfoDefinition || label == config.LabelInfoLocation
}
