// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore implements Store, failing Append the first failUntil calls.
type flakyStore struct {
	mu        sync.Mutex
	failUntil int
	calls     int
	appended  []Turn
	appendErr error
}

func (f *flakyStore) Append(ctx context.Context, turn *Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.appendErr != nil {
		return f.appendErr
	}
	if f.calls <= f.failUntil {
		return errors.New("database is locked")
	}
	f.appended = append(f.appended, *turn)
	return nil
}

func (f *flakyStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	return nil, nil
}
func (f *flakyStore) Paginate(ctx context.Context, sessionID string, page, limit int) (*datatypes.HistoryPage, error) {
	return nil, nil
}
func (f *flakyStore) Stats(ctx context.Context, sessionID string) (*datatypes.SessionStats, error) {
	return nil, nil
}
func (f *flakyStore) EndSession(ctx context.Context, sessionID string) error    { return nil }
func (f *flakyStore) DeleteSession(ctx context.Context, sessionID string) error { return nil }

func newTestBuffer(store Store, capacity int) *TurnBuffer {
	b := NewTurnBuffer(store, capacity)
	b.baseDelay = 0 // no real sleeping in tests
	return b
}

func TestTurnBuffer_FlushDrainsInOrder(t *testing.T) {
	store := &flakyStore{}
	buf := newTestBuffer(store, 8)
	ctx := context.Background()

	for i, content := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Add(ctx, Turn{SessionID: "s1", Role: "user", Content: content}), "add %d", i)
	}
	require.Equal(t, 3, buf.Len())

	require.NoError(t, buf.Flush(ctx))
	assert.Equal(t, 0, buf.Len(), "flush should drain the buffer")

	require.Len(t, store.appended, 3)
	assert.Equal(t, "a", store.appended[0].Content)
	assert.Equal(t, "c", store.appended[2].Content)
}

func TestTurnBuffer_FlushEmptyIsNoop(t *testing.T) {
	store := &flakyStore{}
	buf := newTestBuffer(store, 8)

	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 0, store.calls, "no store calls for an empty buffer")
}

func TestTurnBuffer_RetriesTransientFailure(t *testing.T) {
	store := &flakyStore{failUntil: 2}
	buf := newTestBuffer(store, 8)
	ctx := context.Background()

	require.NoError(t, buf.Add(ctx, Turn{SessionID: "s1", Role: "user", Content: "x"}))
	require.NoError(t, buf.Flush(ctx), "third attempt should succeed")

	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.appended, 1)
}

func TestTurnBuffer_ExhaustedRetriesKeepTurn(t *testing.T) {
	store := &flakyStore{failUntil: 100}
	buf := newTestBuffer(store, 8)
	ctx := context.Background()

	require.NoError(t, buf.Add(ctx, Turn{SessionID: "s1", Role: "user", Content: "x"}))
	err := buf.Flush(ctx)
	require.Error(t, err, "flush should report the failure")
	assert.Equal(t, 1, buf.Len(), "unpersisted turn must stay buffered")
}

func TestTurnBuffer_ValidationErrorNotRetried(t *testing.T) {
	store := &flakyStore{appendErr: &datatypes.ValidationError{Field: "session_id", Reason: "empty"}}
	buf := newTestBuffer(store, 8)
	ctx := context.Background()

	require.NoError(t, buf.Add(ctx, Turn{Role: "user", Content: "x"}))
	err := buf.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, store.calls, "validation failures must not be retried")
}

func TestTurnBuffer_AddWhenFullFlushesFirst(t *testing.T) {
	store := &flakyStore{}
	buf := newTestBuffer(store, 2)
	ctx := context.Background()

	require.NoError(t, buf.Add(ctx, Turn{SessionID: "s1", Role: "user", Content: "1"}))
	require.NoError(t, buf.Add(ctx, Turn{SessionID: "s1", Role: "assistant", Content: "2"}))
	require.NoError(t, buf.Add(ctx, Turn{SessionID: "s1", Role: "user", Content: "3"}))

	assert.Len(t, store.appended, 2, "overflow should have flushed the first two")
	assert.Equal(t, 1, buf.Len(), "the new turn should be buffered")
}
