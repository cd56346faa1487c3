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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("AudioSummary").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[AudioSummaryQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, hit := range parsed.Get.AudioSummary {
//	    fmt.Println(hit.AudioID)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// AudioSummary Response Types
// =============================================================================

// AudioSummaryQueryResponse represents the response from querying the
// AudioSummary class.
type AudioSummaryQueryResponse struct {
	Get struct {
		AudioSummary []AudioSummaryResult `json:"AudioSummary"`
	} `json:"Get"`
}

// AudioSummaryResult represents a single AudioSummary object from a query.
// Additional.Distance is populated on nearVector searches only.
type AudioSummaryResult struct {
	AudioID    string `json:"audio_id"`
	Summary    string `json:"summary"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// =============================================================================
// AudioSummary Property Struct
// =============================================================================

// AudioSummaryProperties represents the properties for creating an
// AudioSummary object.
type AudioSummaryProperties struct {
	AudioID string `json:"audio_id"`
	Summary string `json:"summary"`
}

// ToMap converts AudioSummaryProperties to the map format required by
// Weaviate's WithProperties() method.
//
//	props := AudioSummaryProperties{AudioID: id, Summary: summary}
//	client.Data().Creator().WithProperties(props.ToMap()).Do(ctx)
func (p *AudioSummaryProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"audio_id": p.AudioID,
		"summary":  p.Summary,
	}
}
