// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/conversation"
	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHistory serves canned recent turns per session.
type fakeHistory struct {
	recent map[string][]history.Turn
}

func (f *fakeHistory) Append(ctx context.Context, turn *history.Turn) error { return nil }
func (f *fakeHistory) Recent(ctx context.Context, sessionID string, n int) ([]history.Turn, error) {
	return f.recent[sessionID], nil
}
func (f *fakeHistory) Paginate(ctx context.Context, sessionID string, page, limit int) (*datatypes.HistoryPage, error) {
	return nil, nil
}
func (f *fakeHistory) Stats(ctx context.Context, sessionID string) (*datatypes.SessionStats, error) {
	return nil, nil
}
func (f *fakeHistory) EndSession(ctx context.Context, sessionID string) error    { return nil }
func (f *fakeHistory) DeleteSession(ctx context.Context, sessionID string) error { return nil }

func newTestManager(t *testing.T, store history.Store, maxSize int) *Manager {
	t.Helper()
	factory := func(key string) *conversation.Engine {
		return conversation.NewEngine(key, nil, nil, nil,
			conversation.Config{Policy: conversation.PolicyDirect})
	}
	m := NewManager(factory, store, maxSize, time.Hour)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestGet_CachesPerKey(t *testing.T) {
	m := newTestManager(t, &fakeHistory{}, 4)

	first := m.Get(context.Background(), "s1")
	second := m.Get(context.Background(), "s1")
	assert.Same(t, first, second, "same key must return the same engine")
	assert.Equal(t, 1, m.Len())

	other := m.Get(context.Background(), "s2")
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, m.Len())
}

func TestGet_EmptyKeyIsThrowaway(t *testing.T) {
	m := newTestManager(t, &fakeHistory{}, 4)

	a := m.Get(context.Background(), "")
	b := m.Get(context.Background(), "")
	assert.NotSame(t, a, b, "throwaway engines are never shared")
	assert.Equal(t, 0, m.Len(), "throwaway engines are never cached")
}

func TestGet_HydratesFromHistory(t *testing.T) {
	store := &fakeHistory{recent: map[string][]history.Turn{
		"s1": {
			{Role: "user", Content: "u1"},
			{Role: "assistant", Content: "a1"},
		},
	}}
	m := newTestManager(t, store, 4)

	engine := m.Get(context.Background(), "s1")
	assert.Equal(t, 2, engine.Len(), "persisted turns should seed the projection")

	fresh := m.Get(context.Background(), "s2")
	assert.Equal(t, 0, fresh.Len())
}

func TestGet_EvictsLeastRecentlyUsed(t *testing.T) {
	m := newTestManager(t, &fakeHistory{}, 2)
	ctx := context.Background()

	s1 := m.Get(ctx, "s1")
	m.Get(ctx, "s2")
	m.Get(ctx, "s1") // refresh s1 so s2 is now oldest
	m.Get(ctx, "s3") // evicts s2
	assert.Equal(t, 2, m.Len())

	again := m.Get(ctx, "s1")
	assert.Same(t, s1, again, "s1 must have survived the eviction")

	rebuilt := m.Get(ctx, "s2")
	assert.NotNil(t, rebuilt, "evicted session is rebuilt on demand")
}

func TestRemove_DropsSession(t *testing.T) {
	m := newTestManager(t, &fakeHistory{}, 4)
	ctx := context.Background()

	first := m.Get(ctx, "s1")
	m.Remove(ctx, "s1")
	assert.Equal(t, 0, m.Len())

	second := m.Get(ctx, "s1")
	assert.NotSame(t, first, second)
}

func TestClear_EmptiesCache(t *testing.T) {
	m := newTestManager(t, &fakeHistory{}, 8)
	ctx := context.Background()

	m.Get(ctx, "s1")
	m.Get(ctx, "s2")
	m.Get(ctx, "s3")
	require.Equal(t, 3, m.Len())

	evicted := m.Clear(ctx)
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 0, m.Len())
}

func TestEvictIdle_DropsExpiredSessions(t *testing.T) {
	factory := func(key string) *conversation.Engine {
		return conversation.NewEngine(key, nil, nil, nil,
			conversation.Config{Policy: conversation.PolicyDirect})
	}
	m := NewManager(factory, &fakeHistory{}, 8, time.Nanosecond)
	t.Cleanup(func() { m.Close(context.Background()) })

	m.Get(context.Background(), "s1")
	m.Get(context.Background(), "s2")
	require.Equal(t, 2, m.Len())

	time.Sleep(5 * time.Millisecond)
	m.evictIdle()
	assert.Equal(t, 0, m.Len(), "sessions idle past the TTL are swept")
}
