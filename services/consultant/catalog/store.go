// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog provides the relational store for audio records and
// the two-phase delete coordinator that keeps the relational and vector
// stores consistent.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("consultaudio.catalog")

// Store is the audio record catalog contract.
type Store interface {
	// Create inserts a new record. The AudioID must be unique.
	Create(ctx context.Context, rec *datatypes.AudioRecord) error

	// GetByID returns the record, or a NotFoundError.
	GetByID(ctx context.Context, audioID string) (*datatypes.AudioRecord, error)

	// List returns all records ordered newest first.
	List(ctx context.Context) ([]datatypes.AudioRecord, error)

	// Search returns records whose title, category, use case, or
	// emotion contains the query substring (case-insensitive).
	Search(ctx context.Context, query string) ([]datatypes.AudioRecord, error)

	// SetStatus updates the visibility flag. Returns NotFoundError for
	// unknown IDs.
	SetStatus(ctx context.Context, audioID string, status datatypes.AudioStatus) error

	// Delete removes the row. Returns NotFoundError for unknown IDs.
	Delete(ctx context.Context, audioID string) error
}

// SQLStore implements Store on a SQL database (modernc.org/sqlite in
// production, but any database/sql driver with the same dialect works).
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
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audio_records (
	audio_id   TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	use_case   TEXT NOT NULL DEFAULT '',
	emotion    TEXT NOT NULL DEFAULT '',
	duration   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	filename   TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audio_records_status ON audio_records(status);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const recordColumns = "audio_id, title, category, use_case, emotion, duration, status, filename, summary, created_at"

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, rec *datatypes.AudioRecord) error {
	ctx, span := tracer.Start(ctx, "Catalog.Create")
	defer span.End()
	span.SetAttributes(attribute.String("audio_id", rec.AudioID))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_records (`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.AudioID, rec.Title, rec.Category, rec.UseCase, rec.Emotion,
		rec.Duration, string(rec.Status), rec.Filename, rec.Summary, rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "insert", Err: err}
	}
	slog.Info("Catalog record created", "audio_id", rec.AudioID, "title", rec.Title)
	return nil
}

// GetByID implements Store.
func (s *SQLStore) GetByID(ctx context.Context, audioID string) (*datatypes.AudioRecord, error) {
	ctx, span := tracer.Start(ctx, "Catalog.GetByID")
	defer span.End()
	span.SetAttributes(attribute.String("audio_id", audioID))

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audio_records WHERE audio_id = ?`, audioID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &datatypes.NotFoundError{Resource: "audio", ID: audioID}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "catalog", Op: "get", Err: err}
	}
	return rec, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]datatypes.AudioRecord, error) {
	ctx, span := tracer.Start(ctx, "Catalog.List")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audio_records ORDER BY created_at DESC`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "catalog", Op: "list", Err: err}
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Search implements Store. Matching is substring-based across the
// descriptive metadata columns, not semantic: the vector index covers
// meaning, this covers curator bookkeeping.
func (s *SQLStore) Search(ctx context.Context, query string) ([]datatypes.AudioRecord, error) {
	ctx, span := tracer.Start(ctx, "Catalog.Search")
	defer span.End()

	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audio_records
		 WHERE lower(title) LIKE ? OR lower(category) LIKE ?
		    OR lower(use_case) LIKE ? OR lower(emotion) LIKE ?
		 ORDER BY created_at DESC`,
		pattern, pattern, pattern, pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "catalog", Op: "search", Err: err}
	}
	defer rows.Close()
	return collectRecords(rows)
}

// SetStatus implements Store.
func (s *SQLStore) SetStatus(ctx context.Context, audioID string, status datatypes.AudioStatus) error {
	ctx, span := tracer.Start(ctx, "Catalog.SetStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("audio_id", audioID),
		attribute.String("status", string(status)),
	)

	res, err := s.db.ExecContext(ctx,
		`UPDATE audio_records SET status = ? WHERE audio_id = ?`, string(status), audioID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "set_status", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "set_status", Err: err}
	}
	if affected == 0 {
		return &datatypes.NotFoundError{Resource: "audio", ID: audioID}
	}
	slog.Info("Catalog record status updated", "audio_id", audioID, "status", status)
	return nil
}

// Delete implements Store. This removes the relational row only; use
// TwoPhaseDeleter to delete across both stores.
func (s *SQLStore) Delete(ctx context.Context, audioID string) error {
	ctx, span := tracer.Start(ctx, "Catalog.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("audio_id", audioID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM audio_records WHERE audio_id = ?`, audioID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "delete", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "delete", Err: err}
	}
	if affected == 0 {
		return &datatypes.NotFoundError{Resource: "audio", ID: audioID}
	}
	if err := tx.Commit(); err != nil {
		return &datatypes.CollaboratorError{Collaborator: "catalog", Op: "commit", Err: err}
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*datatypes.AudioRecord, error) {
	var rec datatypes.AudioRecord
	var status string
	err := sc.Scan(&rec.AudioID, &rec.Title, &rec.Category, &rec.UseCase, &rec.Emotion,
		&rec.Duration, &status, &rec.Filename, &rec.Summary, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = datatypes.AudioStatus(status)
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]datatypes.AudioRecord, error) {
	var records []datatypes.AudioRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &datatypes.CollaboratorError{Collaborator: "catalog", Op: "scan", Err: err}
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &datatypes.CollaboratorError{Collaborator: "catalog", Op: "scan", Err: err}
	}
	return records, nil
}
