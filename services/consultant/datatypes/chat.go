// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the chat endpoints
// (consultant, direct assistant, and audio provider). For audio catalog
// types, see audio.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxSessionIDLength bounds client-supplied session identifiers.
	MaxSessionIDLength = 128

	// MinSearchLimit and MaxSearchLimit bound the semantic search result
	// count.
	MinSearchLimit = 1
	MaxSearchLimit = 20
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for consultant datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes to bound memory use for large payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Retrieval Status
// =============================================================================

// RetrievalStatus reports what happened on the retrieval path of a chat
// turn. "none" means retrieval ran and found nothing above the
// acceptance threshold; "degraded" means retrieval itself failed and the
// answer was generated without it. The two are observably distinct so
// operators can tell an empty catalog from a broken one.
type RetrievalStatus string

const (
	// RetrievalFound means an audio resource was attached to the turn.
	RetrievalFound RetrievalStatus = "found"

	// RetrievalNone means retrieval ran but nothing cleared the threshold.
	RetrievalNone RetrievalStatus = "none"

	// RetrievalDegraded means retrieval failed and the turn proceeded
	// without it.
	RetrievalDegraded RetrievalStatus = "degraded"

	// RetrievalSkipped means the policy for this turn performs no
	// retrieval (direct assistant chat).
	RetrievalSkipped RetrievalStatus = "skipped"
)

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest is the body for the consultant, direct, and audio provider
// chat endpoints.
//
// # Fields
//
//   - SessionID: Optional. Identity key for conversation continuity.
//     When absent the server generates one and echoes it back.
//   - Message: Required. The user's message, limited to 32KB.
//
// # Validation
//
//   - Message: required, max 32768 bytes
//   - SessionID: max 128 characters
type ChatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	Message   string `json:"message" validate:"required,maxbytes"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureSessionID generates a session ID when the client did not supply
// one, so every response carries a key the client can continue with.
func (r *ChatRequest) EnsureSessionID() {
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
}

// =============================================================================
// Chat Response Types
// =============================================================================

// AudioReference is the single audio resource attached to a chat answer.
// At most one is surfaced per turn.
type AudioReference struct {
	AudioID   string  `json:"audio_id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary,omitempty"`
	Duration  string  `json:"duration,omitempty"`
	Relevance float64 `json:"relevance"`
}

// ChatResponse is the response from any chat endpoint.
//
// # Fields
//
//   - SessionID: The identity key for this conversation (server-generated
//     when the request had none).
//   - Answer: The generated reply text.
//   - Audio: The attached audio resource, nil unless RetrievalStatus is
//     "found".
//   - RetrievalStatus: What happened on the retrieval path.
//   - ConversationLength: Number of turns in the bounded projection after
//     this exchange was recorded.
//   - ProcessingTimeMs: Server-side processing time for the turn.
type ChatResponse struct {
	SessionID          string          `json:"session_id"`
	Answer             string          `json:"answer"`
	Audio              *AudioReference `json:"audio,omitempty"`
	RetrievalStatus    RetrievalStatus `json:"retrieval_status"`
	ConversationLength int             `json:"conversation_length"`
	ProcessingTimeMs   int64           `json:"processing_time_ms,omitempty"`
	Timestamp          int64           `json:"timestamp"`
}

// NewChatResponse creates a ChatResponse with the timestamp set.
func NewChatResponse(sessionID, answer string) *ChatResponse {
	return &ChatResponse{
		SessionID: sessionID,
		Answer:    answer,
		Timestamp: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Session Types
// =============================================================================

// SessionStats summarizes a stored conversation.
type SessionStats struct {
	SessionID      string `json:"session_id"`
	MessageCount   int    `json:"message_count"`
	UserMessages   int    `json:"user_messages"`
	AssistantTurns int    `json:"assistant_messages"`
	CreatedAt      int64  `json:"created_at,omitempty"`
	UpdatedAt      int64  `json:"updated_at,omitempty"`
	IsActive       bool   `json:"is_active"`
}

// HistoryPage is one page of persisted conversation turns.
type HistoryPage struct {
	SessionID string       `json:"session_id"`
	Page      int          `json:"page"`
	Limit     int          `json:"limit"`
	Total     int          `json:"total"`
	Turns     []StoredTurn `json:"turns"`
}

// StoredTurn is a persisted conversation turn as returned by the history
// endpoints.
type StoredTurn struct {
	MessageID string          `json:"message_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Audio     *AudioReference `json:"audio,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
