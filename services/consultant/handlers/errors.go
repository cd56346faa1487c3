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
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/consultant/observability"
	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to HTTP responses: validation to 400,
// not found to 404, everything else to 500. The metrics singleton is
// optional so handler tests run without registering collectors.
func writeError(c *gin.Context, endpoint string, err error) {
	var (
		status int
		code   observability.ErrorCode
	)
	var verr *datatypes.ValidationError
	var nferr *datatypes.NotFoundError
	var perr *datatypes.ProcessingError
	var cerr *datatypes.CollaboratorError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		code = observability.ErrorCodeValidation
	case errors.As(err, &nferr):
		status = http.StatusNotFound
		code = observability.ErrorCodeNotFound
	case errors.As(err, &perr):
		status = http.StatusInternalServerError
		code = observability.ErrorCodeProcessing
	case errors.As(err, &cerr):
		status = http.StatusInternalServerError
		code = observability.ErrorCodeRetrievalError
		if cerr.Collaborator == "llm" {
			code = observability.ErrorCodeLLMError
		}
	default:
		status = http.StatusInternalServerError
		code = observability.ErrorCodeInternal
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "endpoint", endpoint, "error", err)
	} else {
		slog.Warn("Request rejected", "endpoint", endpoint, "status", status, "error", err)
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
		m.RecordRequest(endpoint, false)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// recordSuccess bumps the request counter when metrics are initialized.
func recordSuccess(endpoint string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
}
