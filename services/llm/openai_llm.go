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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements LLMClient, Embedder, and Transcriber against
// the OpenAI API.
type OpenAIClient struct {
	client     *openai.Client
	chatModel  string
	embedModel string
}

// OpenAIOptions configures NewOpenAIClient. Zero values fall back to
// environment variables and defaults.
type OpenAIOptions struct {
	APIKey     string
	ChatModel  string
	EmbedModel string
}

// NewOpenAIClient creates an OpenAI-backed client.
//
// The API key is taken from opts, then the OPENAI_API_KEY environment
// variable, then the container secret at /run/secrets/openai_api_key.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
		slog.Warn("Chat model not set, defaulting to gpt-4o-mini")
	}
	embedModel := opts.EmbedModel
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	slog.Info("Initializing OpenAI client", "chat_model", chatModel, "embed_model", embedModel)
	return &OpenAIClient{
		client:     openai.NewClient(apiKey),
		chatModel:  chatModel,
		embedModel: embedModel,
	}, nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	result, err := o.Chat(ctx, []Message{
		{Role: openai.ChatMessageRoleSystem, Content: "You are a helpful assistant."},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, params)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// Chat implements the LLMClient interface.
//
// Tool definitions in params are translated to OpenAI function tools.
// When the model responds with tool calls they are surfaced on the
// returned ChatResult; no dispatch happens here.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*ChatResult, error) {
	slog.Debug("Chat completion via OpenAI", "model", o.chatModel, "messages", len(messages))

	req := openai.ChatCompletionRequest{
		Model:    o.chatModel,
		Messages: toOpenAIMessages(messages),
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if len(params.Tools) > 0 {
		tools, err := toOpenAITools(params.Tools)
		if err != nil {
			return nil, err
		}
		req.Tools = tools
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := resp.Choices[0]
	slog.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason)

	result := &ChatResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// Embed implements the Embedder interface.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		slog.Error("OpenAI embedding call failed", "error", err)
		return nil, fmt.Errorf("OpenAI embedding call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// Transcribe implements the Transcriber interface using Whisper.
func (o *OpenAIClient) Transcribe(ctx context.Context, path string) (string, error) {
	slog.Debug("Transcribing audio via OpenAI", "path", path)
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
	})
	if err != nil {
		slog.Error("OpenAI transcription call failed", "error", err)
		return "", fmt.Errorf("OpenAI transcription call failed: %w", err)
	}
	return resp.Text, nil
}

// toOpenAIMessages converts llm.Message turns to the wire format.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// toOpenAITools converts tool definitions to OpenAI function tools.
func toOpenAITools(defs []ToolDefinition) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		schema, err := json.Marshal(d.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool schema for %q: %w", d.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  json.RawMessage(schema),
			},
		})
	}
	return tools, nil
}
