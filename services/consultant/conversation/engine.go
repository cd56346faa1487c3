// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation implements the consultation dialogue engine: a
// per-session chat loop over an LLM backend with policy-controlled audio
// retrieval and write-behind history persistence.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/AleutianAI/ConsultAudio/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("consultaudio.conversation")

const consultantSystemPrompt = `You are a professional consultant AI that helps users by providing guidance and determining when audio resources are necessary.

Your capabilities:
1. Provide professional consultation and advice
2. Determine when audio files would be helpful for the user
3. Search for and recommend relevant consultation audio when appropriate

Guidelines:
- Provide empathetic, professional advice as a consultant would
- Only recommend audio files when they would genuinely add value to the consultation
- Ask follow-up questions to better understand the user's situation
- Maintain a warm, professional consultant tone
- Use the search_audio_resources function only when audio would enhance your consultation`

const assistantSystemPrompt = `You are a helpful assistant that provides clear, thoughtful answers to the user's questions.

Guidelines:
- Draw on your own knowledge; no external resources are available to you
- Ask follow-up questions when the request is ambiguous
- Maintain a warm, professional tone`

const audioProviderSystemPrompt = `You are a professional consultant AI. A search for relevant consultation audio runs before every one of your answers; when a resource is found it is offered to the user alongside your response.

Guidelines:
- Provide empathetic, professional advice as a consultant would
- When audio context is provided, weave it into your answer naturally
- When no audio was found, answer from your own expertise
- Maintain a warm, professional consultant tone`

const noAudioFoundContext = "No relevant consultation audio resource was found for this request. " +
	"Answer from your own expertise and do not promise audio materials."

const (
	// DefaultConsultantWindow bounds the prompt context for the
	// tool-mediated consultant flow.
	DefaultConsultantWindow = 6

	// DefaultAssistantWindow bounds the prompt context for the direct
	// and unconditional flows, which carry no tool overhead.
	DefaultAssistantWindow = 10

	// DefaultAcceptThreshold is the minimum relevance an audio resource
	// must exceed to be surfaced.
	DefaultAcceptThreshold = 0.3

	defaultTemperature float32 = 0.7
	defaultMaxTokens           = 400

	// defaultCallTimeout bounds a single model completion or retrieval
	// round trip.
	defaultCallTimeout = 60 * time.Second
)

// Config tunes an Engine. Zero values select the documented defaults.
type Config struct {
	Policy       Policy
	SystemPrompt string
	MaxWindow    int
	Temperature  float32
	MaxTokens    int

	// CallTimeout is the deadline applied to every chat completion and
	// retrieval call made during a turn.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyTool
	}
	if c.SystemPrompt == "" {
		switch c.Policy {
		case PolicyDirect:
			c.SystemPrompt = assistantSystemPrompt
		case PolicyUnconditional:
			c.SystemPrompt = audioProviderSystemPrompt
		default:
			c.SystemPrompt = consultantSystemPrompt
		}
	}
	if c.MaxWindow < 1 {
		if c.Policy == PolicyTool {
			c.MaxWindow = DefaultConsultantWindow
		} else {
			c.MaxWindow = DefaultAssistantWindow
		}
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxTokens < 1 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	return c
}

// Result is the outcome of one conversation turn.
type Result struct {
	Answer             string
	Audio              *datatypes.AudioReference
	Status             datatypes.RetrievalStatus
	ConversationLength int
	Decision           Decision

	// InputTokens and OutputTokens sum usage across every completion
	// the turn made.
	InputTokens  int
	OutputTokens int
}

// Engine runs a single session's conversation. An Engine is safe for
// concurrent use; turns within a session are serialized.
type Engine struct {
	key    string
	cfg    Config
	client llm.LLMClient
	search *SearchAudioTool
	buffer *history.TurnBuffer

	mu         sync.Mutex
	projection []llm.Message
	lastUsed   time.Time
}

// NewEngine creates an Engine for the session key. An empty key marks a
// throwaway session: turns are never persisted. buffer may be nil for
// the same effect.
func NewEngine(key string, client llm.LLMClient, search *SearchAudioTool, buffer *history.TurnBuffer, cfg Config) *Engine {
	return &Engine{
		key:      key,
		cfg:      cfg.withDefaults(),
		client:   client,
		search:   search,
		buffer:   buffer,
		lastUsed: time.Now(),
	}
}

func (e *Engine) Key() string { return e.key }

// LastUsed reports when the engine last served a turn.
func (e *Engine) LastUsed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

// Len is the number of messages currently in the prompt projection.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.projection)
}

// Hydrate seeds the projection from persisted turns, oldest first. Only
// user and assistant turns survive into the prompt window.
func (e *Engine) Hydrate(turns []history.Turn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projection = e.projection[:0]
	for _, turn := range turns {
		if turn.Role != "user" && turn.Role != "assistant" {
			continue
		}
		e.projection = append(e.projection, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	e.trimLocked()
}

// Reset drops the in-memory conversation window.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projection = nil
}

// Flush forces any buffered turns to the history store.
func (e *Engine) Flush(ctx context.Context) error {
	if e.buffer == nil {
		return nil
	}
	return e.buffer.Flush(ctx)
}

// Respond runs one conversation turn under the engine's policy.
//
// The turn is only committed, to the projection and to the history
// buffer, after the model produced an answer; a failed turn leaves the
// session exactly as it was.
func (e *Engine) Respond(ctx context.Context, userMsg string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_key", e.key),
		attribute.String("policy", string(e.cfg.Policy)),
	)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsed = time.Now()

	var (
		res *Result
		err error
	)
	switch e.cfg.Policy {
	case PolicyDirect:
		res, err = e.respondDirect(ctx, userMsg)
	case PolicyUnconditional:
		res, err = e.respondUnconditional(ctx, userMsg)
	case PolicyTool:
		res, err = e.respondWithTools(ctx, userMsg)
	default:
		err = fmt.Errorf("unknown conversation policy %q", e.cfg.Policy)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return nil, err
	}

	e.commitLocked(ctx, userMsg, res)
	res.ConversationLength = len(e.projection)
	span.SetAttributes(
		attribute.String("retrieval_status", string(res.Status)),
		attribute.String("decision", res.Decision.String()),
	)
	return res, nil
}

// chat runs one completion under the configured call deadline.
func (e *Engine) chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (*llm.ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	result, err := e.client.Chat(ctx, messages, params)
	if err != nil {
		return nil, &datatypes.CollaboratorError{Collaborator: "llm", Op: "chat", Err: err}
	}
	return result, nil
}

// respondDirect answers from the model alone.
func (e *Engine) respondDirect(ctx context.Context, userMsg string) (*Result, error) {
	messages := e.promptLocked(nil, userMsg)
	result, err := e.chat(ctx, messages, e.params(nil))
	if err != nil {
		return nil, err
	}
	return &Result{
		Answer:       result.Content,
		Status:       datatypes.RetrievalSkipped,
		Decision:     DecisionNoAction,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

// respondUnconditional retrieves before every answer and folds the
// outcome, hit or miss, into the prompt as context.
func (e *Engine) respondUnconditional(ctx context.Context, userMsg string) (*Result, error) {
	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	outcome := e.search.Search(searchCtx, userMsg)
	cancel()

	contextMsg := llm.Message{Role: "system", Content: noAudioFoundContext}
	if outcome.Audio != nil {
		contextMsg.Content = fmt.Sprintf(
			"A relevant consultation audio resource was found and will be offered to the user alongside your answer.\nTitle: %s\nSummary: %s",
			outcome.Audio.Title, outcome.Audio.Summary)
	}

	messages := e.promptLocked([]llm.Message{contextMsg}, userMsg)
	result, err := e.chat(ctx, messages, e.params(nil))
	if err != nil {
		return nil, err
	}
	return &Result{
		Answer:       result.Content,
		Audio:        outcome.Audio,
		Status:       outcome.Status,
		Decision:     DecisionInvoke,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

// respondWithTools runs the agent flow: one completion that may request
// the search tool, at most one tool round, then a closing completion.
func (e *Engine) respondWithTools(ctx context.Context, userMsg string) (*Result, error) {
	toolDefs := []llm.ToolDefinition{e.search.Definition()}
	messages := e.promptLocked(nil, userMsg)

	first, err := e.chat(ctx, messages, e.params(toolDefs))
	if err != nil {
		return nil, err
	}

	switch decide(first) {
	case DecisionNoAction:
		return &Result{
			Answer:       first.Content,
			Status:       datatypes.RetrievalSkipped,
			Decision:     DecisionNoAction,
			InputTokens:  first.InputTokens,
			OutputTokens: first.OutputTokens,
		}, nil

	case DecisionInvoke:
		call, outcome := e.runSearchCall(ctx, first)
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   first.Content,
			ToolCalls: []llm.ToolCall{call},
		})
		messages = append(messages, llm.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Name:       ToolName,
			Content:    outcome.Payload,
		})

		// No tools on the closing call, one round is the ceiling.
		final, err := e.chat(ctx, messages, e.params(nil))
		if err != nil {
			return nil, err
		}
		return &Result{
			Answer:       final.Content,
			Audio:        outcome.Audio,
			Status:       outcome.Status,
			Decision:     DecisionInvoke,
			InputTokens:  first.InputTokens + final.InputTokens,
			OutputTokens: first.OutputTokens + final.OutputTokens,
		}, nil

	default:
		return nil, fmt.Errorf("unhandled decision %v", decide(first))
	}
}

// runSearchCall executes the first search tool call the model made,
// dispatching through the tool's Call surface. Additional calls in the
// same turn are dropped.
func (e *Engine) runSearchCall(ctx context.Context, result *llm.ChatResult) (llm.ToolCall, *searchOutcome) {
	var call llm.ToolCall
	for _, c := range result.ToolCalls {
		if c.Name == ToolName {
			call = c
			break
		}
	}
	if len(result.ToolCalls) > 1 {
		slog.Debug("Dropping extra tool calls", "session_key", e.key, "count", len(result.ToolCalls)-1)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	payload, err := e.search.Call(ctx, call.Arguments)
	if err != nil {
		// Call never fails today; keep the turn alive if that changes.
		slog.Error("Search tool call failed", "session_key", e.key, "error", err)
		return call, &searchOutcome{Status: datatypes.RetrievalDegraded,
			Payload: mustJSON(map[string]any{"found_relevant_audio": false})}
	}
	return call, outcomeFromPayload(payload)
}

// promptLocked assembles system prompt, bounded history window, optional
// context messages, and the user turn. Caller holds e.mu.
func (e *Engine) promptLocked(contextMsgs []llm.Message, userMsg string) []llm.Message {
	window := e.projection
	if len(window) > e.cfg.MaxWindow {
		window = window[len(window)-e.cfg.MaxWindow:]
	}
	messages := make([]llm.Message, 0, len(window)+len(contextMsgs)+2)
	messages = append(messages, llm.Message{Role: "system", Content: e.cfg.SystemPrompt})
	messages = append(messages, window...)
	messages = append(messages, contextMsgs...)
	messages = append(messages, llm.Message{Role: "user", Content: userMsg})
	return messages
}

func (e *Engine) params(toolDefs []llm.ToolDefinition) llm.GenerationParams {
	temperature := e.cfg.Temperature
	maxTokens := e.cfg.MaxTokens
	return llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Tools:       toolDefs,
	}
}

// commitLocked records the completed turn in the projection and the
// write-behind buffer. Caller holds e.mu.
func (e *Engine) commitLocked(ctx context.Context, userMsg string, res *Result) {
	e.projection = append(e.projection,
		llm.Message{Role: "user", Content: userMsg},
		llm.Message{Role: "assistant", Content: res.Answer},
	)
	e.trimLocked()

	if e.buffer == nil || e.key == "" {
		return
	}
	now := time.Now().UnixMilli()
	if err := e.buffer.Add(ctx, history.Turn{
		SessionID: e.key,
		Role:      "user",
		Content:   userMsg,
		Timestamp: now,
	}); err != nil {
		slog.Error("Failed to buffer user turn", "session_key", e.key, "error", err)
	}
	assistantTurn := history.Turn{
		SessionID: e.key,
		Role:      "assistant",
		Content:   res.Answer,
		Audio:     res.Audio,
		Timestamp: now,
	}
	if res.Decision == DecisionInvoke {
		assistantTurn.ToolTrace = mustJSON(map[string]any{
			"tool":             ToolName,
			"retrieval_status": string(res.Status),
		})
	}
	if err := e.buffer.Add(ctx, assistantTurn); err != nil {
		slog.Error("Failed to buffer assistant turn", "session_key", e.key, "error", err)
	}

	// The turn boundary is a flush point: history reads issued right
	// after this response must see both turns.
	if err := e.buffer.Flush(ctx); err != nil {
		slog.Error("Failed to flush the turn buffer", "session_key", e.key, "error", err)
	}
}

// trimLocked bounds the projection to the prompt window.
func (e *Engine) trimLocked() {
	if len(e.projection) > e.cfg.MaxWindow {
		e.projection = append(e.projection[:0:0], e.projection[len(e.projection)-e.cfg.MaxWindow:]...)
	}
}
