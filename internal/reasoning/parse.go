package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subtask is one derived actionable step in an overview result
type Subtask struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OverviewResult is the structured output of a status_overview call
type OverviewResult struct {
	Summary   string    `json:"summary"`
	Progress  int       `json:"progress"`
	Obstacles []string  `json:"obstacles"`
	Subtasks  []Subtask `json:"subtasks"`
}

// TaskScore is one per-task wellbeing estimate in a prioritization result
type TaskScore struct {
	TaskID    string  `json:"task_id"`
	Wellbeing float64 `json:"wellbeing"`
	Reasoning string  `json:"reasoning"`
}

// PriorityResult is the structured output of a prioritization call
type PriorityResult struct {
	Scores []TaskScore `json:"scores"`
}

// WellbeingByTask returns the scores keyed by task id, clamped to [0,10]
func (r *PriorityResult) WellbeingByTask() map[string]float64 {
	m := make(map[string]float64, len(r.Scores))
	for _, s := range r.Scores {
		w := s.Wellbeing
		if w < 0 {
			w = 0
		}
		if w > 10 {
			w = 10
		}
		m[s.TaskID] = w
	}
	return m
}

// AnalysisResult is the structured output of an email_analysis call
type AnalysisResult struct {
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

// ChatResult is the free-text output of a chat call
type ChatResult struct {
	Reply string `json:"reply"`
}

// StructuredResult is the tagged union of per-template result shapes.
// Exactly one field matching Kind is populated.
type StructuredResult struct {
	Kind     TemplateKind
	Overview *OverviewResult
	Priority *PriorityResult
	Analysis *AnalysisResult
	Chat     *ChatResult
}

// Parse extracts the typed result for the given template kind from a raw
// engine response. Engines wrap JSON in prose or markdown fences often
// enough that the parser scans for the outermost object instead of decoding
// the body directly.
func Parse(kind TemplateKind, raw string) (*StructuredResult, error) {
	res := &StructuredResult{Kind: kind}

	if kind == TemplateChat {
		reply := strings.TrimSpace(raw)
		if reply == "" {
			return nil, &ParseError{Reason: "empty chat response"}
		}
		res.Chat = &ChatResult{Reply: reply}
		return res, nil
	}

	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case TemplateStatusOverview:
		var ov OverviewResult
		if err := json.Unmarshal(payload, &ov); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("overview result: %v", err)}
		}
		if strings.TrimSpace(ov.Summary) == "" {
			return nil, &ParseError{Reason: "overview result missing summary"}
		}
		res.Overview = &ov

	case TemplatePrioritization:
		var pr PriorityResult
		if err := json.Unmarshal(payload, &pr); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("priority result: %v", err)}
		}
		if len(pr.Scores) == 0 {
			return nil, &ParseError{Reason: "priority result has no scores"}
		}
		res.Priority = &pr

	case TemplateEmailAnalysis:
		var an AnalysisResult
		if err := json.Unmarshal(payload, &an); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("analysis result: %v", err)}
		}
		res.Analysis = &an

	default:
		return nil, fmt.Errorf("unknown template kind %q", kind)
	}

	return res, nil
}

// extractJSON returns the outermost JSON object in raw
func extractJSON(raw string) ([]byte, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, &ParseError{Reason: "no JSON object in response"}
	}
	return []byte(raw[start : end+1]), nil
}
