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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/audio"
	"github.com/AleutianAI/ConsultAudio/services/consultant/catalog"
	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/observability"
	"github.com/AleutianAI/ConsultAudio/services/consultant/vectorindex"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var audioTracer = otel.Tracer("consultaudio.handlers")

// HandleUploadAudio ingests one audio file: save, transcribe, summarize,
// embed, catalog. The saved file is removed again when any later stage
// fails, so a failed upload leaves no partial state behind.
func HandleUploadAudio(processor *audio.Processor, store catalog.Store, index vectorindex.Index, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleUploadAudio")
		defer span.End()
		start := time.Now()

		fileHeader, err := c.FormFile("file")
		if err != nil {
			writeError(c, "upload", &datatypes.ValidationError{
				Field: "file", Reason: "no file provided"})
			return
		}
		if fileHeader.Filename == "" {
			writeError(c, "upload", &datatypes.ValidationError{
				Field: "file", Reason: "no file name provided"})
			return
		}
		if !datatypes.IsAllowedExtension(fileHeader.Filename) {
			writeError(c, "upload", &datatypes.ValidationError{
				Field:  "file",
				Reason: "file type not allowed, supported formats: .mp3, .wav, .m4a, .flac, .ogg",
			})
			return
		}

		var meta datatypes.UploadMetadata
		if err := c.ShouldBind(&meta); err != nil {
			writeError(c, "upload", &datatypes.ValidationError{
				Field: "metadata", Reason: err.Error()})
			return
		}
		if err := meta.Validate(); err != nil {
			writeError(c, "upload", &datatypes.ValidationError{
				Field: "metadata", Reason: err.Error()})
			return
		}

		audioID := uuid.NewString()
		ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
		filename := audioID + ext
		path := filepath.Join(uploadDir, filename)
		span.SetAttributes(attribute.String("audio_id", audioID))

		if err := c.SaveUploadedFile(fileHeader, path); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to save upload")
			writeError(c, "upload", fmt.Errorf("failed to save uploaded file: %w", err))
			return
		}

		cleanup := func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("Failed to remove file after failed upload", "path", path, "error", err)
			}
		}

		transcript, summary, err := processor.Process(ctx, path)
		if err != nil {
			cleanup()
			span.RecordError(err)
			writeError(c, "upload", err)
			return
		}

		if err := index.Upsert(ctx, audioID, summary); err != nil {
			cleanup()
			span.RecordError(err)
			writeError(c, "upload", err)
			return
		}

		title := meta.Title
		if title == "" {
			title = fileHeader.Filename
		}
		record := &datatypes.AudioRecord{
			AudioID:   audioID,
			Title:     title,
			Category:  meta.Category,
			UseCase:   meta.UseCase,
			Emotion:   meta.Emotion,
			Duration:  audio.Duration(path),
			Status:    datatypes.AudioStatusActive,
			Filename:  filename,
			Summary:   summary,
			CreatedAt: time.Now().UnixMilli(),
		}
		if err := store.Create(ctx, record); err != nil {
			// Roll the vector back so both stores stay in step.
			if derr := index.Delete(ctx, audioID); derr != nil {
				slog.Error("Failed to roll back vector after catalog failure",
					"audio_id", audioID, "error", derr)
			}
			cleanup()
			span.RecordError(err)
			writeError(c, "upload", err)
			return
		}

		elapsed := time.Since(start).Seconds()
		if m := observability.DefaultMetrics; m != nil {
			m.RecordAudioProcessing("total", elapsed)
		}
		recordSuccess("upload")
		slog.Info("Successfully processed audio upload",
			"audio_id", audioID,
			"original_filename", fileHeader.Filename,
			"transcript_chars", len(transcript),
			"duration", record.Duration)
		c.JSON(http.StatusCreated, datatypes.UploadResponse{
			AudioID:  audioID,
			Title:    title,
			Duration: record.Duration,
			Summary:  summary,
		})
	}
}

// HandleListAudio lists catalog records, newest first. An optional q
// parameter filters on metadata (title, category, use case, emotion).
func HandleListAudio(store catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleListAudio")
		defer span.End()

		var (
			records []datatypes.AudioRecord
			err     error
		)
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			records, err = store.Search(ctx, q)
		} else {
			records, err = store.List(ctx)
		}
		if err != nil {
			span.RecordError(err)
			writeError(c, "list_audio", err)
			return
		}
		recordSuccess("list_audio")
		c.JSON(http.StatusOK, gin.H{"count": len(records), "audio": records})
	}
}

// HandleGetAudio returns a single catalog record by ID.
func HandleGetAudio(store catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleGetAudio")
		defer span.End()

		record, err := store.GetByID(ctx, c.Param("audioId"))
		if err != nil {
			span.RecordError(err)
			writeError(c, "get_audio", err)
			return
		}
		recordSuccess("get_audio")
		c.JSON(http.StatusOK, record)
	}
}

// HandleUpdateAudioStatus toggles a record's retrieval visibility.
// The vector stays in place so reactivation needs no re-embedding.
func HandleUpdateAudioStatus(store catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleUpdateAudioStatus")
		defer span.End()

		var req datatypes.StatusUpdateRequest
		if err := c.BindJSON(&req); err != nil {
			writeError(c, "update_status", &datatypes.ValidationError{
				Field: "body", Reason: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			writeError(c, "update_status", &datatypes.ValidationError{
				Field: "status", Reason: "must be one of: active, inactive"})
			return
		}

		audioID := c.Param("audioId")
		if err := store.SetStatus(ctx, audioID, datatypes.AudioStatus(req.Status)); err != nil {
			span.RecordError(err)
			writeError(c, "update_status", err)
			return
		}
		recordSuccess("update_status")
		slog.Info("Updated audio status", "audio_id", audioID, "status", req.Status)
		c.JSON(http.StatusOK, gin.H{"audio_id": audioID, "status": req.Status})
	}
}

// HandleDeleteAudio removes a resource from the catalog, the vector
// store, and disk via the two phase deleter.
func HandleDeleteAudio(deleter *catalog.TwoPhaseDeleter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleDeleteAudio")
		defer span.End()

		audioID := c.Param("audioId")
		if err := deleter.Delete(ctx, audioID); err != nil {
			span.RecordError(err)
			writeError(c, "delete_audio", err)
			return
		}
		recordSuccess("delete_audio")
		c.JSON(http.StatusOK, gin.H{"audio_id": audioID, "deleted": true})
	}
}

// HandleSearch runs semantic search over the audio summaries.
// limit defaults to 5 and must stay within [1, 20].
func HandleSearch(index vectorindex.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleSearch")
		defer span.End()

		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			writeError(c, "search", &datatypes.ValidationError{
				Field: "q", Reason: "query cannot be empty"})
			return
		}

		limit := 5
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(c, "search", &datatypes.ValidationError{
					Field: "limit", Reason: "must be an integer"})
				return
			}
			limit = parsed
		}
		if limit < datatypes.MinSearchLimit || limit > datatypes.MaxSearchLimit {
			writeError(c, "search", &datatypes.ValidationError{
				Field: "limit", Reason: "must be between 1 and 20"})
			return
		}

		hits, err := index.Query(ctx, query, limit)
		if err != nil {
			span.RecordError(err)
			writeError(c, "search", err)
			return
		}

		results := make([]datatypes.RetrievalResult, 0, len(hits))
		for i, hit := range hits {
			results = append(results, datatypes.RetrievalResult{
				AudioID:   hit.AudioID,
				Summary:   hit.Summary,
				Relevance: 1 - hit.Distance,
				Rank:      i + 1,
			})
		}
		recordSuccess("search")
		c.JSON(http.StatusOK, datatypes.SearchResponse{Query: query, Results: results})
	}
}

// HandleServeAudio streams the stored file for an active record so
// clients can play a recommended consultation.
func HandleServeAudio(store catalog.Store, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := audioTracer.Start(c.Request.Context(), "HandleServeAudio")
		defer span.End()

		record, err := store.GetByID(ctx, c.Param("audioId"))
		if err != nil {
			span.RecordError(err)
			writeError(c, "serve_audio", err)
			return
		}
		path := filepath.Join(uploadDir, record.Filename)
		if _, err := os.Stat(path); err != nil {
			writeError(c, "serve_audio", &datatypes.NotFoundError{
				Resource: "audio file", ID: record.AudioID})
			return
		}
		recordSuccess("serve_audio")
		c.FileAttachment(path, record.Filename)
	}
}
