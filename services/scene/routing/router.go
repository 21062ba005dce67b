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
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planvr/scenecore/services/scene/config"
	"github.com/planvr/scenecore/services/scene/control"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routerDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenecore",
		Subsystem: "router",
		Name:      "decision_total",
		Help:      "Routing decisions by type: tool_action, answer, clarification, size_request",
	}, []string{"type"})

	routerFastPathTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenecore",
		Subsystem: "router",
		Name:      "fast_path_total",
		Help:      "Deterministic shortcut hits: implant_override, implant_removal, numeric, history_pair, dual_meaning",
	}, []string{"path"})
)

var routerTracer = otel.Tracer("scenecore.routing.router")

// =============================================================================
// Decision Router
// =============================================================================

// Fast-path fixed confidence values. A deterministic lexical hit bypasses
// the probabilistic layers, so its confidence is asserted, not measured.
const (
	fastPathIntentConfidence = 0.95
	fastPathEntityConfidence = 0.95
	overrideIntentConfidence = 0.9
)

// resolverCandidates is the k handed to entity resolution per call.
const resolverCandidates = 5

// DecisionRouter turns one utterance into one routed decision.
//
// Description:
//
//	The state machine evaluates, in precedence order: the implant
//	overrides, the deterministic numeric fast-path, the
//	history-sensitive bare-number rule, intent classification with its
//	escalation layers, the dual-meaning short-circuit, entity
//	resolution, value parsing, and threshold arbitration. Every branch
//	returns a typed Decision carrying the {intent, entity, value}
//	confidence triple; no input can fail outright.
//
// Thread Safety: Safe for concurrent use; per-call state only.
type DecisionRouter struct {
	thresholds config.Thresholds
	catalog    *config.EntityCatalog
	classifier *IntentClassifier
	resolver   *EntityResolver
	parser     *ValueParser
	clarifier  *Clarifier
	knowledge  *Knowledge
	logger     *slog.Logger
}

// NewDecisionRouter wires the router from its leaves.
//
// Inputs:
//
//	cfg - Loaded configuration. Must not be nil.
//	classifier, resolver, parser, clarifier, knowledge - Leaf components.
//	  All must not be nil.
//	logger - Logger instance. Nil uses slog.Default().
func NewDecisionRouter(cfg *config.Config, classifier *IntentClassifier, resolver *EntityResolver, parser *ValueParser, clarifier *Clarifier, knowledge *Knowledge, logger *slog.Logger) *DecisionRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionRouter{
		thresholds: cfg.Intent.Thresholds,
		catalog:    &cfg.Catalog,
		classifier: classifier,
		resolver:   resolver,
		parser:     parser,
		clarifier:  clarifier,
		knowledge:  knowledge,
		logger:     logger,
	}
}

// Route produces exactly one decision for an utterance.
//
// Inputs:
//
//	ctx - Context for tracing and oracle calls. Must not be nil.
//	text - The raw utterance.
//	history - Optional recent (user, response) pairs, newest last.
//
// Outputs:
//
//	Decision - Always a fully populated variant; worst case a generic
//	           clarification.
//
// Thread Safety: Safe for concurrent use.
func (r *DecisionRouter) Route(ctx context.Context, text string, history []Exchange) Decision {
	ctx, span := routerTracer.Start(ctx, "routing.DecisionRouter.Route",
		trace.WithAttributes(attribute.Int("text_len", len(text))),
	)
	defer span.End()

	decision := r.route(ctx, text, history)

	routerDecisionTotal.WithLabelValues(decision.Type).Inc()
	span.SetAttributes(
		attribute.String("decision", decision.Type),
		attribute.Float64("intent_confidence", decision.Confidence.Intent),
		attribute.Float64("entity_confidence", decision.Confidence.Entity),
		attribute.Float64("value_confidence", decision.Confidence.Value),
	)
	r.logger.Debug("routed utterance",
		slog.String("decision", decision.Type),
		slog.Float64("intent_conf", decision.Confidence.Intent),
		slog.Float64("entity_conf", decision.Confidence.Entity),
		slog.Float64("value_conf", decision.Confidence.Value),
	)
	return decision
}

func (r *DecisionRouter) route(ctx context.Context, text string, history []Exchange) Decision {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		msg, options := r.clarifier.Generic()
		return clarification(msg, options, Confidence{})
	}

	// 1. Implant overrides take strict precedence over every other rule.
	if d, ok := r.implantOverride(lowered); ok {
		return d
	}

	// 2. Deterministic numeric fast-path.
	if d, ok := r.numericFastPath(lowered); ok {
		routerFastPathTotal.WithLabelValues("numeric").Inc()
		return d
	}

	// 3. Two loose numbers with implant talk in recent history parse as
	// implant dimensions without any classification.
	if d, ok := r.historyDimensionPair(lowered, history); ok {
		routerFastPathTotal.WithLabelValues("history_pair").Inc()
		return d
	}

	// 4. Intent classification with fuzzy and oracle escalation.
	label, intentConf := r.classifier.Classify(ctx, lowered)

	// 5. Dual-meaning short-circuit: "show me the implants" reads as both
	// a control request and a definition question. Only a confident
	// classification may proceed.
	if r.isDualMeaning(lowered) && intentConf < r.thresholds.DualMeaning {
		routerFastPathTotal.WithLabelValues("dual_meaning").Inc()
		msg, options := r.clarifier.DualMeaning()
		return clarification(msg, options, Confidence{Intent: intentConf})
	}

	// 6. Entity resolution, merging semantic and lexical candidates.
	candidates := r.resolver.Resolve(ctx, lowered, resolverCandidates)

	// 7. Value parsing, only when the intent implies a value.
	var value ParsedValue
	var hasValue bool
	if label == config.LabelControlValue || label == config.LabelSizeRequest {
		targetHint := ""
		if len(candidates) > 0 {
			targetHint = candidates[0].Name
		}
		value, hasValue = r.parser.Parse(lowered, targetHint)
	}

	conf := Confidence{Intent: intentConf}
	if len(candidates) > 0 {
		conf.Entity = candidates[0].Confidence
	}
	if hasValue {
		conf.Value = value.Confidence
	}

	// 8. Arbitration over the boosted entity score.
	overall := intentConf
	if len(candidates) > 0 {
		boosted := candidates[0].Confidence + 0.01*float64(len(candidates[0].Name))
		if boosted > 1 {
			boosted = 1
		}
		if boosted < overall {
			overall = boosted
		}
	}
	if overall < r.thresholds.RouterCutoff || label == config.LabelNone {
		return r.clarify(lowered, label, candidates, conf)
	}

	// 9. Branch synthesis.
	switch label {
	case config.LabelControlOn, config.LabelControlOff:
		return r.synthesizeSwitch(label, candidates, conf)
	case config.LabelControlValue:
		return r.synthesizeValue(lowered, candidates, value, hasValue, conf)
	case config.LabelInfoDefinition:
		return r.synthesizeDefinition(lowered, candidates, conf)
	case config.LabelInfoLocation:
		return r.synthesizeLocation(lowered, candidates, conf)
	case config.LabelSizeRequest:
		return r.sizeRequest(conf)
	}

	return r.clarify(lowered, label, candidates, conf)
}

// =============================================================================
// Deterministic Shortcuts
// =============================================================================

var implantRemovalCues = []string{"remove", "take out", "take away", "delete", "get rid of"}

var implantRequestCues = []string{"give me", "provide", "size", "i want", "i need", "place", "add"}

// implantOverride applies the hard-coded implant rules: removal phrases
// force control_off; request phrases force control_value when a digit is
// present and size_request otherwise.
func (r *DecisionRouter) implantOverride(lowered string) (Decision, bool) {
	if !strings.Contains(lowered, "implant") {
		return Decision{}, false
	}

	if containsAny(lowered, implantRemovalCues...) {
		routerFastPathTotal.WithLabelValues("implant_removal").Inc()
		conf := Confidence{Intent: overrideIntentConfidence, Entity: fastPathEntityConfidence}
		return toolAction(control.Args{
			Hand:      control.HandRight,
			Target:    "implants",
			Operation: control.OpSet,
			Value:     "off",
		}, conf), true
	}

	if !containsAny(lowered, implantRequestCues...) {
		return Decision{}, false
	}

	routerFastPathTotal.WithLabelValues("implant_override").Inc()

	if !containsDigit(lowered) {
		conf := Confidence{Intent: overrideIntentConfidence, Entity: fastPathEntityConfidence}
		return r.sizeRequest(conf), true
	}

	// Digit present: a dimension pair or two loose numbers become an
	// implant sizing action.
	if v, ok := r.parser.Parse(lowered, "implants"); ok && v.Dimensions != nil {
		conf := Confidence{Intent: overrideIntentConfidence, Entity: fastPathEntityConfidence, Value: v.Confidence}
		return toolAction(control.Args{
			Hand:      control.HandRight,
			Target:    "implants",
			Operation: control.OpSet,
			Value:     v.Dimensions,
		}, conf), true
	}
	if nums := r.parser.Numbers(lowered); len(nums) == 2 {
		if v, ok := r.parser.AssignDimensionPair("implants", nums[0], nums[1]); ok {
			conf := Confidence{Intent: overrideIntentConfidence, Entity: fastPathEntityConfidence, Value: v.Confidence}
			return toolAction(control.Args{
				Hand:      control.HandRight,
				Target:    "implants",
				Operation: control.OpSet,
				Value:     v.Dimensions,
			}, conf), true
		}
	}

	// Digits that do not form a size: ask properly.
	conf := Confidence{Intent: overrideIntentConfidence, Entity: fastPathEntityConfidence}
	return r.sizeRequest(conf), true
}

// numericFastPath emits an action when a number and exactly one
// lexically-mentioned value target coincide, and a targeted clarification
// when several value targets are mentioned. No mention falls through.
func (r *DecisionRouter) numericFastPath(lowered string) (Decision, bool) {
	nums := r.parser.Numbers(lowered)
	if len(nums) != 1 {
		return Decision{}, false
	}

	mentioned := r.mentionedValueTargets(lowered)
	switch len(mentioned) {
	case 0:
		return Decision{}, false
	case 1:
		conf := Confidence{
			Intent: fastPathIntentConfidence,
			Entity: fastPathEntityConfidence,
			Value:  valueConfidenceClean,
		}
		return toolAction(control.Args{
			Hand:      control.HandRight,
			Target:    mentioned[0],
			Operation: control.OpSet,
			Value:     nums[0],
		}, conf), true
	default:
		msg, options := r.clarifier.AmbiguousValueTarget(nums[0], mentioned)
		conf := Confidence{Intent: fastPathIntentConfidence, Value: valueConfidenceBare}
		return clarification(msg, options, conf), true
	}
}

// historyDimensionPair routes "4 and 11.5" style follow-ups when the
// recent exchanges were about implants.
func (r *DecisionRouter) historyDimensionPair(lowered string, history []Exchange) (Decision, bool) {
	nums := r.parser.Numbers(lowered)
	if len(nums) != 2 || !historyMentions(history, "implant") {
		return Decision{}, false
	}
	v, ok := r.parser.AssignDimensionPair("implants", nums[0], nums[1])
	if !ok {
		return Decision{}, false
	}
	conf := Confidence{Intent: overrideIntentConfidence, Entity: fastPathEntityConfidence, Value: v.Confidence}
	return toolAction(control.Args{
		Hand:      control.HandRight,
		Target:    "implants",
		Operation: control.OpSet,
		Value:     v.Dimensions,
	}, conf), true
}

// isDualMeaning matches the show-implants phrasing that reads as both a
// control request and a definition question.
func (r *DecisionRouter) isDualMeaning(lowered string) bool {
	return strings.Contains(lowered, "show") && strings.Contains(lowered, "implant")
}

// =============================================================================
// Branch Synthesis
// =============================================================================

// synthesizeSwitch builds the on/off action for a resolved switch-like
// entity, or a targeted clarification when the entity signal is weak.
func (r *DecisionRouter) synthesizeSwitch(label string, candidates []EntityCandidate, conf Confidence) Decision {
	top, ok := r.topActionable(candidates)
	if !ok || top.Confidence < r.thresholds.Entity {
		msg, options := r.clarifier.AmbiguousSwitch(candidates)
		return clarification(msg, options, conf)
	}

	value := "on"
	if label == config.LabelControlOff {
		value = "off"
	}
	return toolAction(control.Args{
		Hand:      r.handFor(top),
		Target:    top.Name,
		Operation: control.OpSet,
		Value:     value,
	}, conf)
}

// synthesizeValue builds the numeric set action, or a range-bounded
// clarification when the number is missing or only a relative step was
// given.
func (r *DecisionRouter) synthesizeValue(lowered string, candidates []EntityCandidate, value ParsedValue, hasValue bool, conf Confidence) Decision {
	top, ok := r.topActionable(candidates)
	if !ok || top.Confidence < r.thresholds.Entity {
		if hasValue && value.IsScalar {
			msg, options := r.clarifier.UnplacedValue(value.Scalar)
			return clarification(msg, options, conf)
		}
		msg, options := r.clarifier.AmbiguousSwitch(candidates)
		return clarification(msg, options, conf)
	}

	// Relative steps need an absolute value; there is no current-value
	// register at this layer.
	if !hasValue {
		if delta, ok := r.parser.ParseDelta(lowered); ok {
			msg, options := r.clarifier.DeltaRequest(top.Name, delta)
			return clarification(msg, options, conf)
		}
		msg, options := r.clarifier.ValueMissing(top.Name)
		return clarification(msg, options, conf)
	}

	if value.Confidence < r.thresholds.Value {
		msg, options := r.clarifier.ValueMissing(top.Name)
		return clarification(msg, options, conf)
	}

	var raw any
	if value.IsScalar {
		raw = value.Scalar
	} else {
		raw = value.Dimensions
	}
	return toolAction(control.Args{
		Hand:      r.handFor(top),
		Target:    top.Name,
		Operation: control.OpSet,
		Value:     raw,
	}, conf)
}

// synthesizeDefinition prefers the canonical definition table, then the
// resolved entity's metadata.
func (r *DecisionRouter) synthesizeDefinition(lowered string, candidates []EntityCandidate, conf Confidence) Decision {
	if text, ok := r.knowledge.ResolveDefinition(lowered); ok {
		return answer(text, conf)
	}
	if len(candidates) > 0 && candidates[0].Definition != "" {
		return answer(candidates[0].Definition, conf)
	}
	msg, options := r.clarifier.AmbiguousInfo(candidates)
	return clarification(msg, options, conf)
}

// synthesizeLocation prefers the canonical location table and falls back
// to a fixed not-specified sentence for known entities without location
// metadata.
func (r *DecisionRouter) synthesizeLocation(lowered string, candidates []EntityCandidate, conf Confidence) Decision {
	if text, ok := r.knowledge.ResolveLocation(lowered); ok {
		return answer(text, conf)
	}
	if len(candidates) > 0 {
		return answer("The location of this element is not specified.", conf)
	}
	msg, options := r.clarifier.AmbiguousInfo(candidates)
	return clarification(msg, options, conf)
}

// sizeRequest is always a clarification naming the expected dimensions.
func (r *DecisionRouter) sizeRequest(conf Confidence) Decision {
	msg, options := r.clarifier.SizeRequest("implants")
	d := clarification(msg, options, conf)
	d.Type = DecisionSizeRequest
	return d
}

// clarify picks the most specific clarification the partial signals
// allow. A purely generic message requires zero signal.
func (r *DecisionRouter) clarify(lowered, label string, candidates []EntityCandidate, conf Confidence) Decision {
	if nums := r.parser.Numbers(lowered); len(nums) > 0 {
		msg, options := r.clarifier.UnplacedValue(nums[0])
		return clarification(msg, options, conf)
	}
	if len(candidates) > 0 || isControlLabel(label) {
		if isInfoLabel(label) {
			msg, options := r.clarifier.AmbiguousInfo(candidates)
			return clarification(msg, options, conf)
		}
		msg, options := r.clarifier.AmbiguousSwitch(candidates)
		return clarification(msg, options, conf)
	}
	msg, options := r.clarifier.Generic()
	return clarification(msg, options, conf)
}

// =============================================================================
// Helpers
// =============================================================================

// topActionable returns the best candidate whose type the control surface
// accepts.
func (r *DecisionRouter) topActionable(candidates []EntityCandidate) (EntityCandidate, bool) {
	for _, c := range candidates {
		switch c.Type {
		case config.EntityTypeSwitch, config.EntityTypeValue, config.EntityTypeImplant, config.EntityTypeModel:
			return c, true
		}
	}
	return EntityCandidate{}, false
}

// handFor maps entities to the controlling hand: the anatomical model is
// held in the left hand, everything else uses the right.
func (r *DecisionRouter) handFor(c EntityCandidate) string {
	if c.Type == config.EntityTypeModel {
		return control.HandLeft
	}
	return control.HandRight
}

// mentionedValueTargets scans for lexical mentions of value-type targets
// by canonical name or synonym.
func (r *DecisionRouter) mentionedValueTargets(lowered string) []string {
	var out []string
	for _, e := range r.catalog.ByType(config.EntityTypeValue) {
		if mentionsEntity(lowered, e) {
			out = append(out, e.Name)
		}
	}
	return out
}

func mentionsEntity(lowered string, e config.Entity) bool {
	if strings.Contains(lowered, strings.ToLower(e.Name)) {
		return true
	}
	for _, s := range e.Synonyms {
		if strings.Contains(lowered, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func historyMentions(history []Exchange, term string) bool {
	for _, ex := range history {
		if strings.Contains(strings.ToLower(ex.User), term) ||
			strings.Contains(strings.ToLower(ex.Response), term) {
			return true
		}
	}
	return false
}

func isControlLabel(label string) bool {
	switch label {
	case config.LabelControlOn, config.LabelControlOff, config.LabelControlValue, config.LabelSizeRequest:
		return true
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func toolAction(args control.Args, conf Confidence) Decision {
	return Decision{
		Type:       DecisionToolAction,
		Tool:       "control",
		Arguments:  &args,
		Confidence: conf,
	}
}

func answer(text string, conf Confidence) Decision {
	return Decision{Type: DecisionAnswer, Text: text, Confidence: conf}
}

func clarification(msg string, options []string, conf Confidence) Decision {
	return Decision{
		Type:           DecisionClarification,
		Message:        msg,
		Clarifications: options,
		Confidence:     conf,
	}
}
