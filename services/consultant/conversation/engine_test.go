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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/AleutianAI/ConsultAudio/services/consultant/resolver"
	"github.com/AleutianAI/ConsultAudio/services/consultant/vectorindex"
	"github.com/AleutianAI/ConsultAudio/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays canned chat results and records every request.
type scriptedClient struct {
	results []*llm.ChatResult
	err     error
	calls   []chatCall
}

type chatCall struct {
	messages    []llm.Message
	params      llm.GenerationParams
	hasDeadline bool
}

func (s *scriptedClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (*llm.ChatResult, error) {
	_, hasDeadline := ctx.Deadline()
	s.calls = append(s.calls, chatCall{messages: messages, params: params, hasDeadline: hasDeadline})
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return &llm.ChatResult{Content: "fallback answer", FinishReason: "stop"}, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next, nil
}

// fakeIndex and fakeStore stand in for the vector and catalog stores so
// a real resolver can back the search tool.
type fakeIndex struct {
	hits     []vectorindex.Hit
	queryErr error
}

func (f *fakeIndex) EnsureSchema(ctx context.Context) error                  { return nil }
func (f *fakeIndex) Upsert(ctx context.Context, audioID, summary string) error { return nil }
func (f *fakeIndex) Query(ctx context.Context, text string, k int) ([]vectorindex.Hit, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}
func (f *fakeIndex) Get(ctx context.Context, audioID string) (*vectorindex.Hit, error) {
	return nil, &datatypes.NotFoundError{Resource: "audio summary", ID: audioID}
}
func (f *fakeIndex) Delete(ctx context.Context, audioID string) error { return nil }

type fakeCatalog struct {
	records map[string]*datatypes.AudioRecord
}

func (f *fakeCatalog) Create(ctx context.Context, rec *datatypes.AudioRecord) error { return nil }
func (f *fakeCatalog) GetByID(ctx context.Context, audioID string) (*datatypes.AudioRecord, error) {
	rec, ok := f.records[audioID]
	if !ok {
		return nil, &datatypes.NotFoundError{Resource: "audio record", ID: audioID}
	}
	return rec, nil
}
func (f *fakeCatalog) List(ctx context.Context) ([]datatypes.AudioRecord, error) { return nil, nil }
func (f *fakeCatalog) Search(ctx context.Context, query string) ([]datatypes.AudioRecord, error) {
	return nil, nil
}
func (f *fakeCatalog) SetStatus(ctx context.Context, audioID string, status datatypes.AudioStatus) error {
	return nil
}
func (f *fakeCatalog) Delete(ctx context.Context, audioID string) error { return nil }

// memoryHistory collects appended turns.
type memoryHistory struct {
	turns []history.Turn
}

func (m *memoryHistory) Append(ctx context.Context, turn *history.Turn) error {
	m.turns = append(m.turns, *turn)
	return nil
}
func (m *memoryHistory) Recent(ctx context.Context, sessionID string, n int) ([]history.Turn, error) {
	return nil, nil
}
func (m *memoryHistory) Paginate(ctx context.Context, sessionID string, page, limit int) (*datatypes.HistoryPage, error) {
	return nil, nil
}
func (m *memoryHistory) Stats(ctx context.Context, sessionID string) (*datatypes.SessionStats, error) {
	return nil, nil
}
func (m *memoryHistory) EndSession(ctx context.Context, sessionID string) error    { return nil }
func (m *memoryHistory) DeleteSession(ctx context.Context, sessionID string) error { return nil }

func newSearchTool(t *testing.T, index *fakeIndex, withRecord bool) *SearchAudioTool {
	t.Helper()
	dir := t.TempDir()
	cat := &fakeCatalog{records: map[string]*datatypes.AudioRecord{}}
	if withRecord {
		filename := "a1.mp3"
		require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte("riff"), 0o644))
		cat.records["a1"] = &datatypes.AudioRecord{
			AudioID:   "a1",
			Title:     "Coping with burnout",
			Duration:  "02:15",
			Status:    datatypes.AudioStatusActive,
			Filename:  filename,
			Summary:   "A consultation on recognizing and recovering from burnout.",
			CreatedAt: time.Now().UnixMilli(),
		}
	}
	r := resolver.New(index, cat, dir, 5)
	return NewSearchAudioTool(r, DefaultAcceptThreshold)
}

func foundIndex() *fakeIndex {
	return &fakeIndex{hits: []vectorindex.Hit{{AudioID: "a1", Summary: "s", Distance: 0.2}}}
}

func TestRespond_DirectPolicySkipsRetrieval(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "Here is my advice."}}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil,
		Config{Policy: PolicyDirect})

	res, err := e.Respond(context.Background(), "I feel overwhelmed at work")
	require.NoError(t, err)
	assert.Equal(t, "Here is my advice.", res.Answer)
	assert.Equal(t, datatypes.RetrievalSkipped, res.Status)
	assert.Nil(t, res.Audio)
	require.Len(t, client.calls, 1)
	assert.Empty(t, client.calls[0].params.Tools, "direct policy must not expose tools")
	assert.Equal(t, 2, res.ConversationLength)
}

func TestRespond_ToolPolicyNoAction(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{
		{Content: "Could you tell me more about your situation?"},
	}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil, Config{Policy: PolicyTool})

	res, err := e.Respond(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, DecisionNoAction, res.Decision)
	assert.Equal(t, datatypes.RetrievalSkipped, res.Status)
	assert.Nil(t, res.Audio)
	require.Len(t, client.calls, 1, "no tool round when the model answers directly")
	require.NotEmpty(t, client.calls[0].params.Tools, "tool policy must offer the search tool")
	assert.Equal(t, ToolName, client.calls[0].params.Tools[0].Name)
}

func TestRespond_ToolPolicyInvokeAttachesAudio(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{
		{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: ToolName, Arguments: `{"query":"burnout recovery"}`,
		}}},
		{Content: "I recommend listening to this consultation on burnout."},
	}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil, Config{Policy: PolicyTool})

	res, err := e.Respond(context.Background(), "I think I am burned out")
	require.NoError(t, err)
	assert.Equal(t, DecisionInvoke, res.Decision)
	assert.Equal(t, datatypes.RetrievalFound, res.Status)
	require.NotNil(t, res.Audio)
	assert.Equal(t, "a1", res.Audio.AudioID)
	assert.InDelta(t, 0.8, res.Audio.Relevance, 1e-9)

	require.Len(t, client.calls, 2)
	closing := client.calls[1]
	assert.Empty(t, closing.params.Tools, "closing call must not offer tools")
	last := closing.messages[len(closing.messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, `"found_relevant_audio":true`)
}

func TestRespond_ToolPolicyNothingFound(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{
		{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: ToolName, Arguments: `{"query":"quantum accounting"}`,
		}}},
		{Content: "I could not find a recording, but here is my advice."},
	}}
	empty := &fakeIndex{hits: []vectorindex.Hit{{AudioID: "a1", Summary: "s", Distance: 0.95}}}
	e := NewEngine("s1", client, newSearchTool(t, empty, true), nil, Config{Policy: PolicyTool})

	res, err := e.Respond(context.Background(), "anything on quantum accounting?")
	require.NoError(t, err)
	assert.Equal(t, datatypes.RetrievalNone, res.Status)
	assert.Nil(t, res.Audio)
}

func TestRespond_ToolPolicyDegradedRetrieval(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{
		{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: ToolName, Arguments: `{"query":"stress"}`,
		}}},
		{Content: "Here is my advice without a recording."},
	}}
	broken := &fakeIndex{queryErr: errors.New("weaviate unreachable")}
	e := NewEngine("s1", client, newSearchTool(t, broken, false), nil, Config{Policy: PolicyTool})

	res, err := e.Respond(context.Background(), "help with stress")
	require.NoError(t, err, "retrieval failure must not fail the turn")
	assert.Equal(t, datatypes.RetrievalDegraded, res.Status)
	assert.Nil(t, res.Audio)
	assert.Equal(t, "Here is my advice without a recording.", res.Answer)
}

func TestRespond_UnconditionalPolicyFoldsContext(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "Based on that recording..."}}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil,
		Config{Policy: PolicyUnconditional})

	res, err := e.Respond(context.Background(), "burnout advice please")
	require.NoError(t, err)
	assert.Equal(t, datatypes.RetrievalFound, res.Status)
	require.NotNil(t, res.Audio)

	require.Len(t, client.calls, 1)
	var sawContext bool
	for _, m := range client.calls[0].messages {
		if m.Role == "system" && m.Content != "" && m.Content != audioProviderSystemPrompt {
			sawContext = true
			assert.Contains(t, m.Content, "Coping with burnout")
		}
	}
	assert.True(t, sawContext, "retrieved summary should reach the prompt")
}

func TestRespond_UnconditionalPolicyNoMatchContext(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "Here is my own advice."}}}
	empty := &fakeIndex{hits: []vectorindex.Hit{{AudioID: "a1", Summary: "s", Distance: 0.95}}}
	e := NewEngine("s1", client, newSearchTool(t, empty, true), nil,
		Config{Policy: PolicyUnconditional})

	res, err := e.Respond(context.Background(), "anything on quantum accounting?")
	require.NoError(t, err)
	assert.Equal(t, datatypes.RetrievalNone, res.Status)
	assert.Nil(t, res.Audio)

	require.Len(t, client.calls, 1)
	var sawNoMatch bool
	for _, m := range client.calls[0].messages {
		if m.Role == "system" && m.Content == noAudioFoundContext {
			sawNoMatch = true
		}
	}
	assert.True(t, sawNoMatch, "the model must be told no audio was found")
}

func TestRespond_FailedTurnLeavesSessionUntouched(t *testing.T) {
	store := &memoryHistory{}
	buffer := history.NewTurnBuffer(store, 8)
	client := &scriptedClient{err: errors.New("backend down")}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), buffer,
		Config{Policy: PolicyDirect})

	_, err := e.Respond(context.Background(), "hello?")
	require.Error(t, err)
	assert.True(t, datatypes.IsCollaboratorError(err))
	assert.Equal(t, 0, e.Len(), "failed turn must not enter the projection")
	assert.Equal(t, 0, buffer.Len(), "failed turn must not be persisted")
}

func TestRespond_CommitsTurnsToBuffer(t *testing.T) {
	store := &memoryHistory{}
	buffer := history.NewTurnBuffer(store, 8)
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "advice"}}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), buffer,
		Config{Policy: PolicyDirect})

	_, err := e.Respond(context.Background(), "question")
	require.NoError(t, err)
	require.NoError(t, e.Flush(context.Background()))

	require.Len(t, store.turns, 2)
	assert.Equal(t, "user", store.turns[0].Role)
	assert.Equal(t, "question", store.turns[0].Content)
	assert.Equal(t, "assistant", store.turns[1].Role)
	assert.Equal(t, "s1", store.turns[1].SessionID)
}

func TestRespond_PersistsAtTurnBoundary(t *testing.T) {
	store := &memoryHistory{}
	buffer := history.NewTurnBuffer(store, 8)
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "advice"}}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), buffer,
		Config{Policy: PolicyDirect})

	_, err := e.Respond(context.Background(), "question")
	require.NoError(t, err)

	// No explicit Flush: the turn boundary itself must flush, so a
	// history read issued right after the response sees both turns.
	require.Len(t, store.turns, 2)
	assert.Equal(t, "user", store.turns[0].Role)
	assert.Equal(t, "assistant", store.turns[1].Role)
	assert.Equal(t, 0, buffer.Len(), "nothing should stay pending after the turn")
}

func TestRespond_AppliesCallDeadline(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "advice"}}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil,
		Config{Policy: PolicyDirect, CallTimeout: time.Minute})

	_, err := e.Respond(context.Background(), "question")
	require.NoError(t, err)
	require.Len(t, client.calls, 1)
	assert.True(t, client.calls[0].hasDeadline, "completions must run under a deadline")
}

func TestRespond_TokenUsageSummedAcrossToolRound(t *testing.T) {
	client := &scriptedClient{results: []*llm.ChatResult{
		{
			ToolCalls:   []llm.ToolCall{{ID: "call_1", Name: ToolName, Arguments: `{"query":"burnout"}`}},
			InputTokens: 100, OutputTokens: 20,
		},
		{Content: "final answer", InputTokens: 150, OutputTokens: 40},
	}}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil, Config{Policy: PolicyTool})

	res, err := e.Respond(context.Background(), "I think I am burned out")
	require.NoError(t, err)
	assert.Equal(t, 250, res.InputTokens)
	assert.Equal(t, 60, res.OutputTokens)
}

func TestRespond_ThrowawaySessionNotPersisted(t *testing.T) {
	store := &memoryHistory{}
	buffer := history.NewTurnBuffer(store, 8)
	client := &scriptedClient{results: []*llm.ChatResult{{Content: "advice"}}}
	e := NewEngine("", client, newSearchTool(t, foundIndex(), true), buffer,
		Config{Policy: PolicyDirect})

	_, err := e.Respond(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, 0, buffer.Len(), "empty session key means no persistence")
	assert.Equal(t, 2, e.Len(), "projection still works for throwaway sessions")
}

func TestRespond_WindowIsBounded(t *testing.T) {
	client := &scriptedClient{}
	e := NewEngine("s1", client, newSearchTool(t, foundIndex(), true), nil,
		Config{Policy: PolicyDirect, MaxWindow: 4})

	for i := 0; i < 5; i++ {
		_, err := e.Respond(context.Background(), "turn")
		require.NoError(t, err)
	}
	assert.Equal(t, 4, e.Len())

	last := client.calls[len(client.calls)-1]
	// system + window(4) + user
	assert.LessOrEqual(t, len(last.messages), 6)
}

func TestHydrate_SeedsProjectionFromHistory(t *testing.T) {
	e := NewEngine("s1", &scriptedClient{}, newSearchTool(t, foundIndex(), true), nil,
		Config{Policy: PolicyDirect, MaxWindow: 4})
	e.Hydrate([]history.Turn{
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "tool", Content: "tool output"},
		{Role: "user", Content: "u2"},
		{Role: "assistant", Content: "a2"},
	})
	assert.Equal(t, 4, e.Len(), "tool turns are excluded and the window trimmed")
}

func TestConfig_SystemPromptFollowsPolicy(t *testing.T) {
	tool := Config{Policy: PolicyTool}.withDefaults()
	direct := Config{Policy: PolicyDirect}.withDefaults()
	provider := Config{Policy: PolicyUnconditional}.withDefaults()

	assert.Contains(t, tool.SystemPrompt, ToolName)
	assert.NotContains(t, direct.SystemPrompt, ToolName,
		"the direct assistant is never offered tools and must not be told about them")
	assert.NotContains(t, provider.SystemPrompt, ToolName)
}

func TestReset_ClearsProjection(t *testing.T) {
	e := NewEngine("s1", &scriptedClient{}, newSearchTool(t, foundIndex(), true), nil,
		Config{Policy: PolicyDirect})
	e.Hydrate([]history.Turn{{Role: "user", Content: "u1"}})
	require.Equal(t, 1, e.Len())
	e.Reset()
	assert.Equal(t, 0, e.Len())
}
