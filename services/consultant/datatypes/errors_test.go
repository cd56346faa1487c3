// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsValidationError(t *testing.T) {
	err := &ValidationError{Field: "limit", Reason: "must be between 1 and 20"}

	if !IsValidationError(err) {
		t.Error("direct ValidationError should be detected")
	}
	if !IsValidationError(fmt.Errorf("handler: %w", err)) {
		t.Error("wrapped ValidationError should be detected")
	}
	if IsValidationError(errors.New("plain")) {
		t.Error("plain error should not be a ValidationError")
	}
	if IsValidationError(nil) {
		t.Error("nil should not be a ValidationError")
	}
}

func TestIsNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "audio", ID: "abc"}

	if !IsNotFoundError(err) {
		t.Error("direct NotFoundError should be detected")
	}
	if !IsNotFoundError(fmt.Errorf("catalog: %w", err)) {
		t.Error("wrapped NotFoundError should be detected")
	}
	if IsNotFoundError(errors.New("plain")) {
		t.Error("plain error should not be a NotFoundError")
	}
}

func TestCollaboratorError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &CollaboratorError{Collaborator: "weaviate", Op: "search", Err: inner}

	if !IsCollaboratorError(err) {
		t.Error("CollaboratorError should be detected")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should see through CollaboratorError")
	}
}

func TestProcessingError_Unwrap(t *testing.T) {
	inner := errors.New("whisper timeout")
	err := &ProcessingError{Stage: "transcribe", Err: inner}

	if !IsProcessingError(err) {
		t.Error("ProcessingError should be detected")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should see through ProcessingError")
	}
	if got := err.Error(); got == "" {
		t.Error("Error() should not be empty")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation with field", &ValidationError{Field: "query", Reason: "empty"}, `validation failed on "query": empty`},
		{"validation without field", &ValidationError{Reason: "bad body"}, "validation failed: bad body"},
		{"not found", &NotFoundError{Resource: "session", ID: "s1"}, `session "s1" not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
