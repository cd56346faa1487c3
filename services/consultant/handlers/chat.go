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
	"net/http"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/observability"
	"github.com/AleutianAI/ConsultAudio/services/consultant/session"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("consultaudio.handlers")

// HandleChat serves one conversation turn. The same handler backs the
// consultant, direct, and audio provider endpoints; the difference is
// the policy baked into the manager's engine factory. endpoint labels
// metrics and logs.
func HandleChat(mgr *session.Manager, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()
		span.SetAttributes(attribute.String("endpoint", endpoint))
		start := time.Now()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			writeError(c, endpoint, &datatypes.ValidationError{
				Field: "body", Reason: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			writeError(c, endpoint, &datatypes.ValidationError{
				Field: "message", Reason: err.Error()})
			return
		}
		req.EnsureSessionID()
		span.SetAttributes(attribute.String("session_id", req.SessionID))

		engine := mgr.Get(ctx, req.SessionID)
		result, err := engine.Respond(ctx, req.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat turn failed")
			writeError(c, endpoint, err)
			return
		}

		resp := datatypes.NewChatResponse(req.SessionID, result.Answer)
		resp.Audio = result.Audio
		resp.RetrievalStatus = result.Status
		resp.ConversationLength = result.ConversationLength
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRetrievalOutcome(string(result.Status))
			m.RecordChatTurn(endpoint, result.Decision.String(), time.Since(start).Seconds())
			m.RecordTokens(endpoint, result.InputTokens, result.OutputTokens)
			m.SetCachedSessions(mgr.Len())
		}
		recordSuccess(endpoint)
		c.JSON(http.StatusOK, resp)
	}
}
