// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history provides durable conversation storage: chat sessions,
// their turns, and the bounded write-ahead buffer that decouples the
// request path from the database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("consultaudio.history")

// Turn is one conversation turn as persisted.
//
// Audio is serialized to a JSON column; ToolTrace carries the raw tool
// call/result JSON for audit, empty for plain turns.
type Turn struct {
	MessageID string
	SessionID string
	Role      string
	Content   string
	Audio     *datatypes.AudioReference
	ToolTrace string
	Timestamp int64
}

// Store is the conversation history contract.
type Store interface {
	// Append persists one turn, creating the session row lazily.
	Append(ctx context.Context, turn *Turn) error

	// Recent returns the last n turns in chronological order.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)

	// Paginate returns one page of turns in chronological order.
	// Pages are 1-based.
	Paginate(ctx context.Context, sessionID string, page, limit int) (*datatypes.HistoryPage, error)

	// Stats summarizes a stored session. Unknown sessions yield a
	// NotFoundError.
	Stats(ctx context.Context, sessionID string) (*datatypes.SessionStats, error)

	// EndSession marks the session inactive without deleting its turns.
	EndSession(ctx context.Context, sessionID string) error

	// DeleteSession removes the session row and all of its turns.
	DeleteSession(ctx context.Context, sessionID string) error
}

// SQLStore implements Store on a SQL database.
//
// # Thread Safety
//
// SQLStore is safe for concurrent use; database/sql pools connections.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates the store and runs its migration.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("history migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	audio_refs TEXT NOT NULL DEFAULT '',
	tool_trace TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES chat_sessions(session_id)
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append implements Store.
func (s *SQLStore) Append(ctx context.Context, turn *Turn) error {
	ctx, span := tracer.Start(ctx, "History.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", turn.SessionID),
		attribute.String("role", turn.Role),
	)

	if turn.SessionID == "" {
		return &datatypes.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if turn.MessageID == "" {
		turn.MessageID = uuid.NewString()
	}
	if turn.Timestamp == 0 {
		turn.Timestamp = time.Now().UnixMilli()
	}

	var audioJSON string
	if turn.Audio != nil {
		data, err := json.Marshal(turn.Audio)
		if err != nil {
			return &datatypes.CollaboratorError{Collaborator: "history", Op: "marshal", Err: err}
		}
		audioJSON = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "begin", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, created_at, updated_at, is_active)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		turn.SessionID, now, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session upsert failed")
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "session_upsert", Err: err}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, role, content, audio_refs, tool_trace, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.MessageID, turn.SessionID, turn.Role, turn.Content, audioJSON, turn.ToolTrace, turn.Timestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "message insert failed")
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "message_insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "commit", Err: err}
	}
	return nil
}

// Recent implements Store. The newest n turns are returned oldest
// first, ready to rebuild a projection.
func (s *SQLStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "History.Recent")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.Int("n", n))

	if n < 1 {
		return nil, &datatypes.ValidationError{Field: "n", Reason: "must be at least 1"}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, audio_refs, tool_trace, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "recent", Err: err}
	}
	defer rows.Close()

	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse from newest-first to chronological
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Paginate implements Store.
func (s *SQLStore) Paginate(ctx context.Context, sessionID string, page, limit int) (*datatypes.HistoryPage, error) {
	ctx, span := tracer.Start(ctx, "History.Paginate")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("page", page),
		attribute.Int("limit", limit),
	)

	if page < 1 {
		return nil, &datatypes.ValidationError{Field: "page", Reason: "must be at least 1"}
	}
	if limit < 1 {
		return nil, &datatypes.ValidationError{Field: "limit", Reason: "must be at least 1"}
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&total)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "count", Err: err}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, audio_refs, tool_trace, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY id ASC LIMIT ? OFFSET ?`, sessionID, limit, (page-1)*limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "paginate", Err: err}
	}
	defer rows.Close()

	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}

	pageResult := &datatypes.HistoryPage{
		SessionID: sessionID,
		Page:      page,
		Limit:     limit,
		Total:     total,
		Turns:     make([]datatypes.StoredTurn, 0, len(turns)),
	}
	for _, t := range turns {
		pageResult.Turns = append(pageResult.Turns, datatypes.StoredTurn{
			MessageID: t.MessageID,
			Role:      t.Role,
			Content:   t.Content,
			Audio:     t.Audio,
			Timestamp: t.Timestamp,
		})
	}
	return pageResult, nil
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context, sessionID string) (*datatypes.SessionStats, error) {
	ctx, span := tracer.Start(ctx, "History.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	var createdAt, updatedAt int64
	var isActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at, is_active FROM chat_sessions WHERE session_id = ?`,
		sessionID).Scan(&createdAt, &updatedAt, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "stats", Err: err}
	}

	stats := &datatypes.SessionStats{
		SessionID: sessionID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		IsActive:  isActive != 0,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, COUNT(*) FROM chat_messages WHERE session_id = ? GROUP BY role`, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "scan", Err: err}
		}
		stats.MessageCount += count
		switch role {
		case "user":
			stats.UserMessages += count
		case "assistant":
			stats.AssistantTurns += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "scan", Err: err}
	}
	return stats, nil
}

// EndSession implements Store.
func (s *SQLStore) EndSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "History.EndSession")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET is_active = 0, updated_at = ? WHERE session_id = ?`,
		time.Now().UnixMilli(), sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "end_session", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "end_session", Err: err}
	}
	if affected == 0 {
		return &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	slog.Info("Session ended", "session_id", sessionID)
	return nil
}

// DeleteSession implements Store.
func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "History.DeleteSession")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "message delete failed")
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "delete_messages", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE session_id = ?`, sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session delete failed")
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "delete_session", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "commit", Err: err}
	}
	slog.Info("Session deleted", "session_id", sessionID)
	return nil
}

func collectTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var audioJSON string
		if err := rows.Scan(&t.MessageID, &t.SessionID, &t.Role, &t.Content,
			&audioJSON, &t.ToolTrace, &t.Timestamp); err != nil {
			return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "scan", Err: err}
		}
		if audioJSON != "" {
			var ref datatypes.AudioReference
			if err := json.Unmarshal([]byte(audioJSON), &ref); err == nil {
				t.Audio = &ref
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &datatypes.CollaboratorError{Collaborator: "history", Op: "scan", Err: err}
	}
	return turns, nil
}
