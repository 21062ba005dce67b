// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_Empty(t *testing.T) {
	assert.Nil(t, SplitText("", 100))
	assert.Nil(t, SplitText("   \n\n  ", 100))
}

func TestSplitText_SingleShortChunk(t *testing.T) {
	chunks := SplitText("  implant planning notes  ", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "implant planning notes", chunks[0])
}

func TestSplitText_PacksParagraphs(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph."
	chunks := SplitText(text, 100)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "First paragraph.")
	assert.Contains(t, chunks[0], "Second paragraph.")
}

func TestSplitText_SplitsAtParagraphBoundary(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph."
	chunks := SplitText(text, 20)
	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph.", chunks[0])
	assert.Equal(t, "Second paragraph.", chunks[1])
}

func TestSplitText_LongParagraphSplitsOnSentences(t *testing.T) {
	text := "One sentence here. Another sentence there. A third one follows."
	chunks := SplitText(text, 25)
	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 25)
	}
}

func TestSplitText_HardCutsUnbrokenRuns(t *testing.T) {
	text := strings.Repeat("x", 95)
	chunks := SplitText(text, 30)
	require.NotEmpty(t, chunks)

	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 30)
		total += len(c)
	}
	assert.Equal(t, 95, total, "hard cuts must not drop characters")
}

func TestSplitText_DefaultBudget(t *testing.T) {
	chunks := SplitText("short note", 0)
	require.Len(t, chunks, 1)
}
