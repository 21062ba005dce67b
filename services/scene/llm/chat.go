// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

// =============================================================================
// Chat Oracle
// =============================================================================

// ChatOracle is the black-box text-completion service used for intent
// tie-breaking and answer narration.
type ChatOracle interface {
	// Complete sends a system prompt and a user prompt and returns the
	// model's text reply, trimmed.
	Complete(ctx context.Context, system, user string) (string, error)
}

// OllamaChat implements ChatOracle over a local Ollama chat model.
//
// Thread Safety: Safe for concurrent use.
type OllamaChat struct {
	model llms.Model
}

// NewOllamaChat builds a chat oracle against a local Ollama model.
//
// Description:
//
//	Model name falls back to CHAT_MODEL then to llama3.2; server URL
//	falls back to OLLAMA_HOST then to the langchaingo default.
func NewOllamaChat(model, serverURL string) (*OllamaChat, error) {
	if model == "" {
		model = os.Getenv("CHAT_MODEL")
	}
	if model == "" {
		model = "llama3.2"
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL == "" {
		serverURL = os.Getenv("OLLAMA_HOST")
	}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("chat oracle init: %w", err)
	}
	return &OllamaChat{model: m}, nil
}

// Complete sends one system+user exchange and returns the trimmed reply.
func (c *OllamaChat) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}
	if system != "" {
		messages = append([]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, system),
		}, messages...)
	}

	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
