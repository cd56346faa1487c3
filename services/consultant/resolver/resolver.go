// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver selects the single best audio resource for a query:
// semantic candidates from the vector index, filtered by acceptance
// threshold, record visibility, and file presence on disk.
package resolver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ConsultAudio/services/consultant/catalog"
	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/vectorindex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("consultaudio.resolver")

// minTopK is the floor on candidates fetched per resolve, so one
// ineligible best hit never empties the candidate pool.
const minTopK = 3

// Match is a resolved audio resource: the catalog record plus the
// relevance that selected it.
type Match struct {
	Record    *datatypes.AudioRecord
	Relevance float64
}

// Resolver finds the best eligible audio resource for a query.
type Resolver struct {
	index     vectorindex.Index
	store     catalog.Store
	uploadDir string
	topK      int
}

// New creates a Resolver. topK below the floor of 3 is raised to it.
// uploadDir may be empty to skip the file presence check.
func New(index vectorindex.Index, store catalog.Store, uploadDir string, topK int) *Resolver {
	if topK < minTopK {
		topK = minTopK
	}
	return &Resolver{index: index, store: store, uploadDir: uploadDir, topK: topK}
}

// ResolveBest returns the most relevant eligible resource, or nil when
// nothing clears the threshold.
//
// # Description
//
// Fetches topK candidates from the vector index, converts distance to
// relevance (1 - distance), and walks them best-first. A candidate is
// skipped when its relevance is at or below threshold, its catalog
// record is missing or inactive, or its file is absent from disk; the
// next-best candidate is tried instead. Strictly greater relevance
// wins; ties keep the earlier candidate.
//
// # Outputs
//
//   - *Match: The selected resource, nil when no candidate qualifies.
//   - error: Non-nil only when retrieval itself failed (embedding or
//     vector store). Callers distinguish "no match" from "broken
//     retrieval" by this split.
func (r *Resolver) ResolveBest(ctx context.Context, query string, threshold float64) (*Match, error) {
	ctx, span := tracer.Start(ctx, "Resolver.ResolveBest")
	defer span.End()
	span.SetAttributes(attribute.Float64("threshold", threshold))

	if query == "" {
		return nil, &datatypes.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	hits, err := r.index.Query(ctx, query, r.topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector query failed")
		return nil, err
	}

	var best *Match
	for rank, hit := range hits {
		relevance := 1 - hit.Distance
		if relevance <= threshold {
			// Hits are distance-ordered, nothing further can qualify
			break
		}
		if best != nil && relevance <= best.Relevance {
			continue
		}
		rec, ok := r.eligible(ctx, hit.AudioID)
		if !ok {
			slog.Debug("Skipping ineligible candidate",
				"audio_id", hit.AudioID, "rank", rank+1, "relevance", relevance)
			continue
		}
		best = &Match{Record: rec, Relevance: relevance}
	}

	if best == nil {
		slog.Debug("No audio resource cleared the threshold",
			"candidates", len(hits), "threshold", threshold)
		return nil, nil
	}

	span.SetAttributes(
		attribute.String("audio_id", best.Record.AudioID),
		attribute.Float64("relevance", best.Relevance),
	)
	slog.Info("Resolved audio resource",
		"audio_id", best.Record.AudioID, "relevance", best.Relevance)
	return best, nil
}

// eligible checks the catalog record and the file on disk.
func (r *Resolver) eligible(ctx context.Context, audioID string) (*datatypes.AudioRecord, bool) {
	rec, err := r.store.GetByID(ctx, audioID)
	if err != nil {
		if !datatypes.IsNotFoundError(err) {
			slog.Warn("Catalog lookup failed during resolve", "audio_id", audioID, "error", err)
		}
		return nil, false
	}
	if rec.Status != datatypes.AudioStatusActive {
		return nil, false
	}
	if r.uploadDir != "" && rec.Filename != "" {
		if _, err := os.Stat(filepath.Join(r.uploadDir, rec.Filename)); err != nil {
			slog.Warn("Audio file missing on disk, skipping candidate",
				"audio_id", audioID, "filename", rec.Filename)
			return nil, false
		}
	}
	return rec, true
}
