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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/AleutianAI/ConsultAudio/services/consultant/session"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
)

var sessionTracer = otel.Tracer("consultaudio.handlers")

// GetSessionHistory pages through a session's persisted turns.
// page defaults to 1, limit to 20.
func GetSessionHistory(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "GetSessionHistory")
		defer span.End()

		page, err := positiveIntQuery(c, "page", 1)
		if err != nil {
			writeError(c, "history", err)
			return
		}
		limit, err := positiveIntQuery(c, "limit", 20)
		if err != nil {
			writeError(c, "history", err)
			return
		}

		result, err := store.Paginate(ctx, c.Param("sessionId"), page, limit)
		if err != nil {
			span.RecordError(err)
			writeError(c, "history", err)
			return
		}
		recordSuccess("history")
		c.JSON(http.StatusOK, result)
	}
}

// GetSessionStats reports message counts and activity for a session.
func GetSessionStats(store history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "GetSessionStats")
		defer span.End()

		stats, err := store.Stats(ctx, c.Param("sessionId"))
		if err != nil {
			span.RecordError(err)
			writeError(c, "session_stats", err)
			return
		}
		recordSuccess("session_stats")
		c.JSON(http.StatusOK, stats)
	}
}

// ResetSession closes a conversation: cached engines are flushed and
// dropped and the stored session marked inactive. History is retained.
//
// A session key may be cached by any of the per-policy managers, so
// every manager is swept.
func ResetSession(store history.Store, mgrs ...*session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "ResetSession")
		defer span.End()

		sessionID := c.Param("sessionId")
		for _, mgr := range mgrs {
			mgr.Remove(ctx, sessionID)
		}
		if err := store.EndSession(ctx, sessionID); err != nil {
			span.RecordError(err)
			writeError(c, "reset_session", err)
			return
		}
		recordSuccess("reset_session")
		slog.Info("Reset conversation session", "session_id", sessionID)
		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"message":    "Conversation history cleared. Ready for new consultation session.",
		})
	}
}

// DeleteSession removes a session and all of its stored turns. Engines
// are dropped from every manager first so a leftover cache entry cannot
// re-insert turns for the deleted session on its next flush.
func DeleteSession(store history.Store, mgrs ...*session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "DeleteSession")
		defer span.End()

		sessionID := c.Param("sessionId")
		for _, mgr := range mgrs {
			mgr.Remove(ctx, sessionID)
		}
		if err := store.DeleteSession(ctx, sessionID); err != nil {
			span.RecordError(err)
			writeError(c, "delete_session", err)
			return
		}
		recordSuccess("delete_session")
		slog.Info("Deleted conversation session", "session_id", sessionID)
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": true})
	}
}

// ClearSessionCache drops every cached engine from every manager after
// flushing buffers.
func ClearSessionCache(mgrs ...*session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "ClearSessionCache")
		defer span.End()

		evicted := 0
		for _, mgr := range mgrs {
			evicted += mgr.Clear(ctx)
		}
		recordSuccess("cache_clear")
		c.JSON(http.StatusOK, gin.H{"evicted": evicted})
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "audio-processing-api",
	})
}

// positiveIntQuery parses a positive integer query parameter with a
// default.
func positiveIntQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, &datatypes.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return value, nil
}
