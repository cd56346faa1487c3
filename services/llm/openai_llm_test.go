// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToOpenAIMessages_Roles(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a consultant."},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{
			{ID: "call_1", Name: "search_audio_resources", Arguments: `{"query":"calm"}`},
		}},
		{Role: "tool", Content: `{"found":true}`, ToolCallID: "call_1", Name: "search_audio_resources"},
	}

	out := toOpenAIMessages(messages)
	require.Len(t, out, 4, "every turn should be converted")

	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "hello", out[1].Content)

	require.Len(t, out[2].ToolCalls, 1, "assistant tool call should survive conversion")
	assert.Equal(t, "call_1", out[2].ToolCalls[0].ID)
	assert.Equal(t, openai.ToolTypeFunction, out[2].ToolCalls[0].Type)
	assert.Equal(t, "search_audio_resources", out[2].ToolCalls[0].Function.Name)

	assert.Equal(t, "call_1", out[3].ToolCallID)
	assert.Equal(t, "search_audio_resources", out[3].Name)
}

func TestToOpenAITools(t *testing.T) {
	defs := []ToolDefinition{
		{
			Name:        "search_audio_resources",
			Description: "Search the audio catalog for relevant clips.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":   map[string]any{"type": "string"},
					"context": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
	}

	tools, err := toOpenAITools(defs)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "search_audio_resources", tools[0].Function.Name)
	assert.NotEmpty(t, tools[0].Function.Description)
}

func TestToOpenAITools_Empty(t *testing.T) {
	tools, err := toOpenAITools(nil)
	require.NoError(t, err)
	assert.Empty(t, tools)
}
