// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/vectorindex"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TwoPhaseDeleter removes an audio resource from the relational store,
// the vector store, and the filesystem as one logical operation.
//
// # Description
//
// Phase one deletes the relational row. Phase two deletes the vector
// object. If phase two fails, the row is re-inserted (compensation) and
// a CollaboratorError is returned, so the operation never leaves a
// vector entry pointing at a missing record while claiming success.
// The audio file itself is removed last, best-effort: a stale file on
// disk is harmless once both stores forget the ID.
type TwoPhaseDeleter struct {
	store     Store
	index     vectorindex.Index
	uploadDir string
}

// NewTwoPhaseDeleter creates a deleter over the given stores. uploadDir
// may be empty to skip file removal.
func NewTwoPhaseDeleter(store Store, index vectorindex.Index, uploadDir string) *TwoPhaseDeleter {
	return &TwoPhaseDeleter{store: store, index: index, uploadDir: uploadDir}
}

// Delete removes audioID from both stores.
//
// # Outputs
//
//   - error: NotFoundError for unknown IDs; CollaboratorError when the
//     vector delete fails (after the relational row has been restored).
func (d *TwoPhaseDeleter) Delete(ctx context.Context, audioID string) error {
	ctx, span := tracer.Start(ctx, "Catalog.TwoPhaseDelete")
	defer span.End()
	span.SetAttributes(attribute.String("audio_id", audioID))

	// Snapshot the record first so compensation can restore it
	rec, err := d.store.GetByID(ctx, audioID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record lookup failed")
		return err
	}

	// Phase 1: relational row
	if err := d.store.Delete(ctx, audioID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "row delete failed")
		return err
	}

	// Phase 2: vector object
	if err := d.index.Delete(ctx, audioID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector delete failed, compensating")
		slog.Error("Vector delete failed, restoring catalog row",
			"audio_id", audioID, "error", err)

		if restoreErr := d.store.Create(ctx, rec); restoreErr != nil {
			// Compensation failed: the stores are now inconsistent and
			// operator intervention is required.
			slog.Error("Compensation failed, stores are inconsistent",
				"audio_id", audioID, "error", restoreErr)
		}
		return &datatypes.CollaboratorError{Collaborator: "vectorindex", Op: "delete", Err: err}
	}

	if d.uploadDir != "" && rec.Filename != "" {
		path := filepath.Join(d.uploadDir, rec.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove audio file after delete",
				"audio_id", audioID, "path", path, "error", err)
		}
	}

	slog.Info("Audio resource deleted", "audio_id", audioID)
	return nil
}
