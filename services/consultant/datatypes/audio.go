// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains types for the audio catalog: upload, listing,
// semantic search, and status management.
package datatypes

import (
	"path/filepath"
	"strings"
)

// =============================================================================
// Audio Status
// =============================================================================

// AudioStatus is the visibility flag on a catalog record. It is
// orthogonal to deletion: inactive records stay in both stores but are
// never surfaced by the resolver.
type AudioStatus string

const (
	// AudioStatusActive means the record is eligible for retrieval.
	AudioStatusActive AudioStatus = "active"

	// AudioStatusInactive means the record is hidden from retrieval but
	// still present in the catalog.
	AudioStatusInactive AudioStatus = "inactive"
)

// IsValidAudioStatus reports whether s is a recognized status value.
func IsValidAudioStatus(s string) bool {
	switch AudioStatus(s) {
	case AudioStatusActive, AudioStatusInactive:
		return true
	default:
		return false
	}
}

// =============================================================================
// Allowed Upload Extensions
// =============================================================================

// allowedExtensions are the audio container formats accepted for upload.
var allowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
}

// IsAllowedExtension reports whether the filename carries an accepted
// audio extension. Comparison is case-insensitive.
func IsAllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// =============================================================================
// Audio Record
// =============================================================================

// AudioRecord is a catalog entry for one uploaded audio resource.
//
// The embedding for the summary lives in the vector store keyed by
// AudioID; this struct is the relational side only.
//
// # Fields
//
//   - AudioID: UUID v4 identifying the resource in both stores.
//   - Title, Category, UseCase, Emotion: Curator-supplied metadata.
//   - Duration: Playback length as "MM:SS", empty when unknown.
//   - Status: Visibility flag (active/inactive).
//   - Filename: Name of the stored file under the upload directory.
//   - Summary: LLM-generated summary of the transcript.
//   - CreatedAt: Unix timestamp in milliseconds.
type AudioRecord struct {
	AudioID   string      `json:"audio_id"`
	Title     string      `json:"title"`
	Category  string      `json:"category,omitempty"`
	UseCase   string      `json:"use_case,omitempty"`
	Emotion   string      `json:"emotion,omitempty"`
	Duration  string      `json:"duration,omitempty"`
	Status    AudioStatus `json:"status"`
	Filename  string      `json:"filename"`
	Summary   string      `json:"summary,omitempty"`
	CreatedAt int64       `json:"created_at"`
}

// =============================================================================
// Upload Types
// =============================================================================

// UploadMetadata carries the optional form fields accompanying an audio
// upload.
type UploadMetadata struct {
	Title    string `form:"title" validate:"omitempty,max=256"`
	Category string `form:"category" validate:"omitempty,max=128"`
	UseCase  string `form:"use_case" validate:"omitempty,max=256"`
	Emotion  string `form:"emotion" validate:"omitempty,max=128"`
}

// Validate validates the upload metadata fields.
func (m *UploadMetadata) Validate() error {
	return chatValidate.Struct(m)
}

// UploadResponse is returned after a successful upload and processing
// pass.
type UploadResponse struct {
	AudioID  string `json:"audio_id"`
	Title    string `json:"title"`
	Duration string `json:"duration,omitempty"`
	Summary  string `json:"summary"`
}

// =============================================================================
// Status Update
// =============================================================================

// StatusUpdateRequest toggles a record's visibility flag.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

// Validate validates the status update request.
func (r *StatusUpdateRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Retrieval Types
// =============================================================================

// RetrievalResult is one scored hit from semantic search. Relevance is
// 1 - distance, so higher is better. Rank is 1-based position in the
// result ordering.
type RetrievalResult struct {
	AudioID   string  `json:"audio_id"`
	Summary   string  `json:"summary,omitempty"`
	Relevance float64 `json:"relevance"`
	Rank      int     `json:"rank"`
}

// SearchResponse is the body for GET /v1/search.
type SearchResponse struct {
	Query   string            `json:"query"`
	Results []RetrievalResult `json:"results"`
}
