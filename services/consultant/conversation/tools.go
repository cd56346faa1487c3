// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/resolver"
	"github.com/AleutianAI/ConsultAudio/services/llm"
	"github.com/tmc/langchaingo/tools"
)

// ToolName is the function name the model uses to request audio search.
const ToolName = "search_audio_resources"

const toolDescription = "Search for relevant consultation audio files when they " +
	"would enhance the user's consultation experience. Only use this when audio " +
	"resources would genuinely add value to your consultation."

// SearchAudioTool resolves audio resources for the conversation engine.
// It satisfies the langchaingo Tool contract so it can also be handed to
// generic agent executors.
type SearchAudioTool struct {
	resolver  *resolver.Resolver
	threshold float64
}

var _ tools.Tool = (*SearchAudioTool)(nil)

func NewSearchAudioTool(r *resolver.Resolver, threshold float64) *SearchAudioTool {
	return &SearchAudioTool{resolver: r, threshold: threshold}
}

func (t *SearchAudioTool) Name() string        { return ToolName }
func (t *SearchAudioTool) Description() string { return toolDescription }

// Definition is the JSON Schema handed to the chat backend.
func (t *SearchAudioTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolName,
		Description: toolDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query to find relevant audio consultation content",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Additional context about why audio would be helpful for this consultation",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
}

// searchArgs is the argument payload the model sends for ToolName.
type searchArgs struct {
	Query   string `json:"query"`
	Context string `json:"context,omitempty"`
}

// searchOutcome carries both the model-facing payload and the structured
// reference the engine attaches to its response.
type searchOutcome struct {
	Audio   *datatypes.AudioReference
	Status  datatypes.RetrievalStatus
	Payload string
}

// Call implements tools.Tool and is the dispatch point for the engine's
// tool round. Input is either the JSON argument object or a bare query
// string; malformed arguments fall back to searching the raw input.
func (t *SearchAudioTool) Call(ctx context.Context, input string) (string, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(input), &args); err != nil || args.Query == "" {
		slog.Warn("Malformed tool arguments, searching with raw input", "input", input)
		args.Query = strings.TrimSpace(input)
	}
	outcome := t.Search(ctx, args.Query)
	return outcome.Payload, nil
}

// Search runs the resolver and packages the result for the model.
//
// A retrieval failure is reported inside the payload rather than as an
// error: the conversation still completes, flagged degraded, and the
// model is told no audio is available.
func (t *SearchAudioTool) Search(ctx context.Context, query string) *searchOutcome {
	match, err := t.resolver.ResolveBest(ctx, query, t.threshold)
	if err != nil {
		slog.Warn("Audio search degraded, continuing without retrieval",
			"query", query, "error", err)
		return &searchOutcome{
			Status: datatypes.RetrievalDegraded,
			Payload: mustJSON(map[string]any{
				"found_relevant_audio": false,
				"search_query":         query,
				"error":                "audio search is temporarily unavailable",
			}),
		}
	}
	if match == nil {
		return &searchOutcome{
			Status: datatypes.RetrievalNone,
			Payload: mustJSON(map[string]any{
				"found_relevant_audio": false,
				"search_query":         query,
			}),
		}
	}
	return &searchOutcome{
		Audio: &datatypes.AudioReference{
			AudioID:   match.Record.AudioID,
			Title:     match.Record.Title,
			Summary:   match.Record.Summary,
			Duration:  match.Record.Duration,
			Relevance: match.Relevance,
		},
		Status: datatypes.RetrievalFound,
		Payload: mustJSON(map[string]any{
			"found_relevant_audio": true,
			"search_query":         query,
			"audio": map[string]any{
				"audio_id":        match.Record.AudioID,
				"title":           match.Record.Title,
				"summary":         match.Record.Summary,
				"duration":        match.Record.Duration,
				"relevance_score": match.Relevance,
			},
		}),
	}
}

// outcomeFromPayload reconstructs the structured outcome from a tool
// payload. The engine goes through Call for the tool round, so the
// reference it commits is decoded from exactly what the model was shown.
func outcomeFromPayload(payload string) *searchOutcome {
	var parsed struct {
		Found bool   `json:"found_relevant_audio"`
		Error string `json:"error"`
		Audio *struct {
			AudioID   string  `json:"audio_id"`
			Title     string  `json:"title"`
			Summary   string  `json:"summary"`
			Duration  string  `json:"duration"`
			Relevance float64 `json:"relevance_score"`
		} `json:"audio"`
	}
	outcome := &searchOutcome{Payload: payload}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		outcome.Status = datatypes.RetrievalDegraded
		return outcome
	}
	switch {
	case parsed.Found && parsed.Audio != nil:
		outcome.Status = datatypes.RetrievalFound
		outcome.Audio = &datatypes.AudioReference{
			AudioID:   parsed.Audio.AudioID,
			Title:     parsed.Audio.Title,
			Summary:   parsed.Audio.Summary,
			Duration:  parsed.Audio.Duration,
			Relevance: parsed.Audio.Relevance,
		}
	case parsed.Error != "":
		outcome.Status = datatypes.RetrievalDegraded
	default:
		outcome.Status = datatypes.RetrievalNone
	}
	return outcome
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable values, which the payload
		// maps above never contain.
		return `{"found_relevant_audio":false}`
	}
	return string(b)
}
