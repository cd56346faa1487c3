// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm defines the model-agnostic client interfaces used by the
// consultant service: chat completions with optional tool calling,
// text embeddings, and audio transcription.
package llm

import "context"

// Message is a single turn in a chat conversation.
//
// Role is one of "system", "user", "assistant", or "tool". ToolCalls is
// populated on assistant turns that requested a tool invocation;
// ToolCallID and Name are set on tool turns carrying the result back.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-requested function invocation.
// Arguments is the raw JSON argument string as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a function the model may call.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerationParams tunes a single completion request. Nil pointer fields
// leave the backend default in place.
type GenerationParams struct {
	Temperature *float32         `json:"temperature"`
	TopP        *float32         `json:"top_p"`
	MaxTokens   *int             `json:"max_tokens"`
	Stop        []string         `json:"stop"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// ChatResult is the outcome of a chat completion.
//
// Content holds the generated text; ToolCalls is non-empty when the
// model chose to invoke a tool instead of (or in addition to) answering.
type ChatResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// LLMClient defines the standard interface for any LLM backend
// TODO: Add more methods to this interface.
type LLMClient interface {
	// Generate produces a single-shot completion for a plain prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a multi-turn completion. When params.Tools is non-empty
	// the model may answer with tool calls instead of text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (*ChatResult, error)
}

// Embedder computes vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Transcriber converts an audio file on disk to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}
