// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import "strings"

// =============================================================================
// Text Chunker
// =============================================================================

// DefaultChunkSize is the character budget per chunk.
const DefaultChunkSize = 800

// SplitText splits a document into chunks of at most maxChars characters.
//
// Description:
//
//	Paragraphs are the preferred boundary; paragraphs that fit together
//	are packed into one chunk, and an oversized paragraph is split on
//	sentence-ish boundaries, falling back to a hard cut for pathological
//	unbroken runs. Empty input yields no chunks. maxChars <= 0 uses
//	DefaultChunkSize.
func SplitText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitLongRun(para, maxChars)...)
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitLongRun breaks an oversized paragraph on sentence boundaries,
// hard-cutting any single sentence longer than the budget.
func splitLongRun(para string, maxChars int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range splitSentences(para) {
		for len(sentence) > maxChars {
			flush()
			chunks = append(chunks, strings.TrimSpace(sentence[:maxChars]))
			sentence = sentence[maxChars:]
		}
		if current.Len() > 0 && current.Len()+len(sentence)+1 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(strings.TrimSpace(sentence))
	}
	flush()
	return chunks
}

// splitSentences cuts on period, question mark, and exclamation mark
// followed by whitespace. Good enough for planning notes; no NLP needed.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '?', '!':
			if text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				out = append(out, text[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
