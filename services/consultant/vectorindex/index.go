// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex provides the embedding and similarity store for
// audio summaries, backed by Weaviate with caller-supplied vectors.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/llm"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("consultaudio.vectorindex")

// ClassName is the Weaviate class holding audio summary embeddings.
const ClassName = "AudioSummary"

// Hit is a single similarity search result. Distance is only meaningful
// for Query results; Get returns it as 0.
type Hit struct {
	AudioID  string
	Summary  string
	Distance float64
}

// Index is the embedding/similarity store contract.
//
// Implementations treat embedding failure as an error while an empty
// result set is a valid answer: callers can rely on the distinction.
type Index interface {
	// EnsureSchema creates the AudioSummary class if it does not exist.
	EnsureSchema(ctx context.Context) error

	// Upsert embeds the summary and stores it keyed by audioID,
	// replacing any previous entry for the same ID.
	Upsert(ctx context.Context, audioID, summary string) error

	// Query embeds the text and returns up to k hits ordered by
	// ascending distance. A nil slice with nil error means no hits.
	Query(ctx context.Context, text string, k int) ([]Hit, error)

	// Get returns the stored summary for audioID, or a NotFoundError.
	Get(ctx context.Context, audioID string) (*Hit, error)

	// Delete removes the entry for audioID. Deleting a missing ID is
	// not an error.
	Delete(ctx context.Context, audioID string) error
}

// WeaviateIndex implements Index against a Weaviate instance using the
// "none" vectorizer: every vector is computed client-side through the
// configured embedder.
//
// # Thread Safety
//
// WeaviateIndex is safe for concurrent use. The underlying Weaviate
// client handles connection pooling.
type WeaviateIndex struct {
	client   *weaviate.Client
	embedder llm.Embedder
	timeout  time.Duration
}

// NewWeaviateIndex creates a WeaviateIndex.
//
// # Inputs
//
//   - client: Connected Weaviate client. Must not be nil.
//   - embedder: Provider for computing text embeddings. Must not be nil.
//   - timeout: Deadline applied to every embedding and Weaviate round
//     trip. Values <= 0 disable the deadline.
func NewWeaviateIndex(client *weaviate.Client, embedder llm.Embedder, timeout time.Duration) *WeaviateIndex {
	return &WeaviateIndex{client: client, embedder: embedder, timeout: timeout}
}

// guard applies the configured call deadline to ctx.
func (w *WeaviateIndex) guard(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.timeout)
}

// audioSummarySchema returns the class definition for AudioSummary.
func audioSummarySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassName,
		Description: "Embedded summary of one uploaded audio resource.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "audio_id",
				DataType:        []string{"text"},
				Description:     "Catalog UUID of the audio resource.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "summary",
				DataType:     []string{"text"},
				Description:  "LLM-generated summary of the transcript.",
				Tokenization: "word",
			},
		},
	}
}

// EnsureSchema creates the AudioSummary class if it does not already
// exist. Safe to call at every startup.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	slog.Info("Checking schema", "class", ClassName)
	ctx, cancel := w.guard(ctx)
	defer cancel()

	_, err := w.client.Schema().ClassGetter().WithClassName(ClassName).Do(ctx)
	if err == nil {
		slog.Info("Schema already exists", "class", ClassName)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", ClassName)
	if err := w.client.Schema().ClassCreator().WithClass(audioSummarySchema()).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", ClassName, err)
	}
	slog.Info("Successfully created schema", "class", ClassName)
	return nil
}

// Upsert embeds the summary and stores it under audioID.
//
// The audio ID doubles as the Weaviate object ID, which makes the
// operation idempotent: an existing object for the same ID is deleted
// before the new one is written.
func (w *WeaviateIndex) Upsert(ctx context.Context, audioID, summary string) error {
	ctx, span := tracer.Start(ctx, "VectorIndex.Upsert")
	defer span.End()
	ctx, cancel := w.guard(ctx)
	defer cancel()
	span.SetAttributes(attribute.String("audio_id", audioID))

	vector, err := w.embedder.Embed(ctx, summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return &datatypes.CollaboratorError{Collaborator: "embedder", Op: "embed", Err: err}
	}

	// Replace any prior entry for this ID
	if err := w.Delete(ctx, audioID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pre-delete failed")
		return err
	}

	props := datatypes.AudioSummaryProperties{AudioID: audioID, Summary: summary}
	_, err = w.client.Data().Creator().
		WithClassName(ClassName).
		WithID(audioID).
		WithProperties(props.ToMap()).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		slog.Error("Failed to store audio summary vector", "audio_id", audioID, "error", err)
		return &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "create", Err: err}
	}

	slog.Debug("Stored audio summary vector", "audio_id", audioID)
	return nil
}

// Query embeds the text and runs a nearVector search.
//
// Results are ordered by ascending distance (closest first). Relevance
// for callers is 1 - distance.
func (w *WeaviateIndex) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "VectorIndex.Query")
	defer span.End()
	ctx, cancel := w.guard(ctx)
	defer cancel()
	span.SetAttributes(attribute.Int("top_k", k))

	if k < 1 {
		return nil, &datatypes.ValidationError{Field: "k", Reason: "must be at least 1"}
	}

	vector, err := w.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "embedder", Op: "embed", Err: err}
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "audio_id"},
		{Name: "summary"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		slog.Error("Failed to search AudioSummary class", "error", err)
		return nil, &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "search", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.AudioSummaryQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "parse", Err: err}
	}

	hits := make([]Hit, 0, len(parsed.Get.AudioSummary))
	for _, r := range parsed.Get.AudioSummary {
		var distance float64
		if r.Additional.Distance != nil {
			distance = float64(*r.Additional.Distance)
		}
		hits = append(hits, Hit{
			AudioID:  r.AudioID,
			Summary:  r.Summary,
			Distance: distance,
		})
	}

	slog.Debug("Vector search complete", "hits", len(hits))
	return hits, nil
}

// Get returns the stored entry for audioID.
func (w *WeaviateIndex) Get(ctx context.Context, audioID string) (*Hit, error) {
	ctx, span := tracer.Start(ctx, "VectorIndex.Get")
	defer span.End()
	ctx, cancel := w.guard(ctx)
	defer cancel()
	span.SetAttributes(attribute.String("audio_id", audioID))

	whereFilter := filters.Where().
		WithPath([]string{"audio_id"}).
		WithOperator(filters.Equal).
		WithValueString(audioID)

	fields := []graphql.Field{
		{Name: "audio_id"},
		{Name: "summary"},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get failed")
		return nil, &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "get", Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.AudioSummaryQueryResponse](result)
	if err != nil {
		return nil, &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "parse", Err: err}
	}
	if len(parsed.Get.AudioSummary) == 0 {
		return nil, &datatypes.NotFoundError{Resource: "audio summary", ID: audioID}
	}

	r := parsed.Get.AudioSummary[0]
	return &Hit{AudioID: r.AudioID, Summary: r.Summary}, nil
}

// Delete removes the entry for audioID if present.
func (w *WeaviateIndex) Delete(ctx context.Context, audioID string) error {
	ctx, span := tracer.Start(ctx, "VectorIndex.Delete")
	defer span.End()
	ctx, cancel := w.guard(ctx)
	defer cancel()
	span.SetAttributes(attribute.String("audio_id", audioID))

	exists, err := w.client.Data().Checker().
		WithClassName(ClassName).
		WithID(audioID).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "existence check failed")
		return &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "check", Err: err}
	}
	if !exists {
		return nil
	}

	err = w.client.Data().Deleter().
		WithClassName(ClassName).
		WithID(audioID).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		slog.Warn("Failed to delete audio summary vector", "audio_id", audioID, "error", err)
		return &datatypes.CollaboratorError{Collaborator: "weaviate", Op: "delete", Err: err}
	}
	return nil
}
