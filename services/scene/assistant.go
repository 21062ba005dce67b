// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scene composes the routing, validation, and retrieval layers
// into the assistant surface callers talk to.
package scene

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planvr/scenecore/services/scene/control"
	"github.com/planvr/scenecore/services/scene/rag"
	"github.com/planvr/scenecore/services/scene/routing"
)

var assistantTracer = otel.Tracer("scenecore.assistant")

// =============================================================================
// Guardrails
// =============================================================================

// Narration gates. A context below the minimum length or without any
// match above the score floor is too thin to answer from; the assistant
// degrades to a clarification instead of letting the oracle guess.
const (
	guardrailMinContextChars = 10
	guardrailMinMatchScore   = 0.3
)

// historyWindow is the number of (user, response) pairs kept per session.
const historyWindow = 5

// narrationSystemPrompt constrains the chat oracle to the retrieved
// context.
const narrationSystemPrompt = "You are a voice assistant inside a VR dental planning application. " +
	"Answer the user's question using only the provided context. " +
	"If the context does not contain the answer, say you don't know. Be concise."

// =============================================================================
// Assistant
// =============================================================================

// Assistant is the composition root: it routes utterances, validates
// proposed actions, and falls back to hybrid retrieval plus the chat
// oracle when structured understanding fails.
//
// Thread Safety: Safe for concurrent use. Session history is guarded by
// its own lock; everything else is read-only after construction.
type Assistant struct {
	router    *routing.DecisionRouter
	validator *control.Validator
	retriever *rag.HybridRetriever
	oracle    routing.Oracle
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string][]routing.Exchange
}

// NewAssistant wires the assistant from its layers.
//
// Inputs:
//
//	router, validator, retriever - Must not be nil.
//	oracle - Chat oracle for free-text answers. Nil disables narration;
//	         retrieval failures then degrade straight to clarification.
//	logger - Logger instance. Nil uses slog.Default().
func NewAssistant(router *routing.DecisionRouter, validator *control.Validator, retriever *rag.HybridRetriever, oracle routing.Oracle, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		router:    router,
		validator: validator,
		retriever: retriever,
		oracle:    oracle,
		logger:    logger,
		sessions:  make(map[string][]routing.Exchange),
	}
}

// Chat handles one utterance end to end.
//
// Description:
//
//	Routes the utterance with the session's recent history, validates any
//	proposed action, and on a validation failure converts the structured
//	error into a targeted follow-up. Low-signal outcomes fall back to
//	retrieval-backed narration, gated by the guardrails. The exchange is
//	recorded into the session window afterwards.
//
// Outputs:
//
//	routing.Decision - Always a fully populated variant.
func (a *Assistant) Chat(ctx context.Context, sessionID, text string) routing.Decision {
	ctx, span := assistantTracer.Start(ctx, "scene.Assistant.Chat",
		trace.WithAttributes(attribute.String("session_id", sessionID)),
	)
	defer span.End()

	decision := a.router.Route(ctx, text, a.history(sessionID))

	if decision.Type == routing.DecisionToolAction && decision.Arguments != nil {
		normalized, err := a.validator.Validate(*decision.Arguments)
		if err != nil {
			a.logger.Info("proposed action rejected",
				slog.String("target", decision.Arguments.Target),
				slog.String("error", err.Error()),
			)
			decision = a.rejectionFollowUp(decision, err)
		} else {
			decision.Arguments = &normalized
		}
	}

	// A routed clarification with zero signal may still be answerable as
	// a free-text question.
	if decision.Type == routing.DecisionClarification && decision.Confidence.Intent == 0 {
		if answered, ok := a.answerFromRetrieval(ctx, text); ok {
			decision = answered
		}
	}

	a.record(sessionID, text, decision)
	span.SetAttributes(attribute.String("decision", decision.Type))
	return decision
}

// Ask answers a free-text question from retrieval, bypassing routing.
func (a *Assistant) Ask(ctx context.Context, question string) (routing.Decision, bool) {
	ctx, span := assistantTracer.Start(ctx, "scene.Assistant.Ask")
	defer span.End()
	return a.answerFromRetrieval(ctx, question)
}

// rejectionFollowUp converts a validator error into a targeted
// clarification. The validator's error strings are stable contract;
// matching on them is deliberate.
func (a *Assistant) rejectionFollowUp(proposed routing.Decision, err error) routing.Decision {
	msg := err.Error()
	target := ""
	if proposed.Arguments != nil {
		target = proposed.Arguments.Target
	}

	var message string
	switch {
	case strings.Contains(msg, "out of range"):
		message = fmt.Sprintf("That value doesn't fit: %s. What value should %s be set to?", msg, target)
	case strings.Contains(msg, "left hand"):
		message = fmt.Sprintf("The left hand can't control %s. Should I use the right hand?", target)
	case strings.Contains(msg, "'on' or 'off'"):
		message = fmt.Sprintf("Should %s be turned on or off?", target)
	default:
		message = fmt.Sprintf("I couldn't apply that to %s (%s). Could you rephrase?", target, msg)
	}

	return routing.Decision{
		Type:           routing.DecisionClarification,
		Message:        message,
		Clarifications: []string{msg},
		Confidence:     proposed.Confidence,
	}
}

// answerFromRetrieval runs the hybrid retriever and narrates the result
// through the chat oracle, subject to the guardrails.
func (a *Assistant) answerFromRetrieval(ctx context.Context, question string) (routing.Decision, bool) {
	if a.oracle == nil {
		return routing.Decision{}, false
	}

	results, err := a.retriever.Retrieve(ctx, question, 0)
	if err != nil || len(results) == 0 {
		return routing.Decision{}, false
	}

	best := 0.0
	for _, m := range results {
		if m.Score > best {
			best = m.Score
		}
	}
	if best < guardrailMinMatchScore {
		return routing.Decision{}, false
	}

	contextText := a.retriever.BuildContext(results, 0)
	if len(contextText) < guardrailMinContextChars {
		return routing.Decision{}, false
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)
	reply, err := a.oracle.Complete(ctx, narrationSystemPrompt, prompt)
	if err != nil || reply == "" {
		if err != nil {
			a.logger.Warn("narration oracle failed",
				slog.String("error", err.Error()),
			)
		}
		return routing.Decision{}, false
	}

	return routing.Decision{
		Type:        routing.DecisionAnswer,
		Text:        reply,
		ContextUsed: true,
		Confidence:  routing.Confidence{Intent: best, Entity: 0, Value: 0},
	}, true
}

// =============================================================================
// Session History
// =============================================================================

func (a *Assistant) history(sessionID string) []routing.Exchange {
	if sessionID == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	window := a.sessions[sessionID]
	out := make([]routing.Exchange, len(window))
	copy(out, window)
	return out
}

func (a *Assistant) record(sessionID, text string, decision routing.Decision) {
	if sessionID == "" {
		return
	}
	response := decision.Text
	if response == "" {
		response = decision.Message
	}
	if response == "" && decision.Arguments != nil {
		response = fmt.Sprintf("%s %s %s", decision.Arguments.Operation, decision.Arguments.Target, formatValue(decision.Arguments.Value))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	window := append(a.sessions[sessionID], routing.Exchange{User: text, Response: response})
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}
	a.sessions[sessionID] = window
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
