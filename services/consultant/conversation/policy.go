// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"fmt"

	"github.com/AleutianAI/ConsultAudio/services/llm"
)

// Policy controls whether and how a turn may reach for audio retrieval.
type Policy string

const (
	// PolicyDirect answers from the model alone, never retrieving.
	PolicyDirect Policy = "direct"

	// PolicyTool exposes the search tool and lets the model decide.
	PolicyTool Policy = "tool"

	// PolicyUnconditional retrieves before every answer.
	PolicyUnconditional Policy = "unconditional"
)

// ParsePolicy maps a config string to a Policy. Empty input selects
// PolicyTool, the behavior the consultant runs with by default.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicyTool, nil
	case PolicyDirect, PolicyTool, PolicyUnconditional:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown conversation policy %q", s)
	}
}

// Decision is the outcome of inspecting a model turn for tool use.
type Decision int

const (
	// DecisionNoAction means the model answered without requesting a search.
	DecisionNoAction Decision = iota

	// DecisionInvoke means the model requested the search tool.
	DecisionInvoke
)

func (d Decision) String() string {
	switch d {
	case DecisionNoAction:
		return "no_action"
	case DecisionInvoke:
		return "invoke"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// decide classifies a chat result. Only calls to the search tool count;
// any other tool name the model hallucinates is treated as no action.
func decide(result *llm.ChatResult) Decision {
	for _, call := range result.ToolCalls {
		if call.Name == ToolName {
			return DecisionInvoke
		}
	}
	return DecisionNoAction
}
