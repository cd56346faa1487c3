// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/conversation"
	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/AleutianAI/ConsultAudio/services/consultant/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHistory records session lifecycle calls.
type stubHistory struct {
	ended   []string
	deleted []string
}

func (s *stubHistory) Append(ctx context.Context, turn *history.Turn) error { return nil }
func (s *stubHistory) Recent(ctx context.Context, sessionID string, n int) ([]history.Turn, error) {
	return nil, nil
}
func (s *stubHistory) Paginate(ctx context.Context, sessionID string, page, limit int) (*datatypes.HistoryPage, error) {
	return nil, nil
}
func (s *stubHistory) Stats(ctx context.Context, sessionID string) (*datatypes.SessionStats, error) {
	return nil, nil
}
func (s *stubHistory) EndSession(ctx context.Context, sessionID string) error {
	s.ended = append(s.ended, sessionID)
	return nil
}
func (s *stubHistory) DeleteSession(ctx context.Context, sessionID string) error {
	s.deleted = append(s.deleted, sessionID)
	return nil
}

// newPolicyManagers mirrors the production layout: one engine cache per
// chat policy, with the same session key potentially live in each.
func newPolicyManagers(t *testing.T) (*session.Manager, *session.Manager) {
	t.Helper()
	factory := func(policy conversation.Policy) session.Factory {
		return func(key string) *conversation.Engine {
			return conversation.NewEngine(key, &cannedChat{content: "ok"}, nil, nil,
				conversation.Config{Policy: policy})
		}
	}
	consultant := session.NewManager(factory(conversation.PolicyTool), nil, 16, time.Hour)
	assistant := session.NewManager(factory(conversation.PolicyDirect), nil, 16, time.Hour)
	t.Cleanup(func() {
		consultant.Close(context.Background())
		assistant.Close(context.Background())
	})
	return consultant, assistant
}

func TestDeleteSession_SweepsEveryManager(t *testing.T) {
	consultant, assistant := newPolicyManagers(t)
	store := &stubHistory{}

	ctx := context.Background()
	consultant.Get(ctx, "s1")
	assistant.Get(ctx, "s1")
	require.Equal(t, 1, consultant.Len())
	require.Equal(t, 1, assistant.Len())

	router := gin.New()
	router.DELETE("/v1/sessions/:sessionId", DeleteSession(store, consultant, assistant))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/v1/sessions/s1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"s1"}, store.deleted)
	assert.Equal(t, 0, consultant.Len(), "consultant cache must drop the session")
	assert.Equal(t, 0, assistant.Len(),
		"every policy cache must drop the session, not just the consultant's")
}

func TestResetSession_SweepsEveryManager(t *testing.T) {
	consultant, assistant := newPolicyManagers(t)
	store := &stubHistory{}

	ctx := context.Background()
	consultant.Get(ctx, "s1")
	assistant.Get(ctx, "s1")

	router := gin.New()
	router.POST("/v1/chat/reset/:sessionId", ResetSession(store, consultant, assistant))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/chat/reset/s1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"s1"}, store.ended)
	assert.Equal(t, 0, consultant.Len())
	assert.Equal(t, 0, assistant.Len())
}

func TestClearSessionCache_CountsAcrossManagers(t *testing.T) {
	consultant, assistant := newPolicyManagers(t)

	ctx := context.Background()
	consultant.Get(ctx, "s1")
	consultant.Get(ctx, "s2")
	assistant.Get(ctx, "s1")

	router := gin.New()
	router.POST("/v1/admin/cache/clear", ClearSessionCache(consultant, assistant))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/admin/cache/clear", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp["evicted"])
	assert.Equal(t, 0, consultant.Len())
	assert.Equal(t, 0, assistant.Len())
}
