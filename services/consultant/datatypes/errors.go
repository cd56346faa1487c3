// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request, response, and error types for the
// consultant service.
//
// This file contains the service-wide error taxonomy. Handlers map these
// types onto HTTP status codes: ValidationError -> 400, NotFoundError ->
// 404, everything else (including CollaboratorError) -> 500.
package datatypes

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// ValidationError indicates a malformed or out-of-range input that was
// rejected before any collaborator was contacted.
//
// # Example
//
//	if req.Limit < 1 || req.Limit > 20 {
//	    return &ValidationError{Field: "limit", Reason: "must be between 1 and 20"}
//	}
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// IsValidationError checks if an error is (or wraps) a ValidationError.
// Handlers use this to select HTTP 400.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError indicates that a known-shaped identifier referenced a
// resource that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// IsNotFoundError checks if an error is (or wraps) a NotFoundError.
// Handlers use this to select HTTP 404.
func IsNotFoundError(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// CollaboratorError wraps a failure from an external collaborator (the
// LLM backend, the vector store, the relational store, or the
// filesystem). The original error is preserved for errors.Is/As chains.
//
// # Example
//
//	if err := index.Delete(ctx, id); err != nil {
//	    return &CollaboratorError{Collaborator: "vectorindex", Op: "delete", Err: err}
//	}
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

// Error implements the error interface for CollaboratorError.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Collaborator, e.Op, e.Err)
}

// Unwrap exposes the wrapped collaborator failure.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsCollaboratorError checks if an error is (or wraps) a CollaboratorError.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}

// ProcessingError indicates the transcription/summarization pipeline
// failed for an uploaded file. The upload is rolled back when this is
// returned.
type ProcessingError struct {
	Stage string // "transcribe" or "summarize"
	Err   error
}

// Error implements the error interface for ProcessingError.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("audio processing failed at %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying pipeline failure.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsProcessingError checks if an error is (or wraps) a ProcessingError.
func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}
