// Package oracle adapts an external natural-language code-generation service.
//
// The adapter sends issue and error context out and receives structured
// proposed edits back. Responses are parsed as strict JSON and validated
// against the schema immediately; a parse or validation failure is reported
// as an error, never as a silent partial object.
package oracle

import "context"

// Oracle is the code-generation service boundary.
type Oracle interface {
	// Analyze produces a root-cause analysis for a described issue.
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)

	// Generate turns an analysis into concrete per-file modifications.
	Generate(ctx context.Context, req GenerationRequest) (*ChangeSet, error)

	// Heal requests a targeted corrective patch for validation failures.
	Heal(ctx context.Context, req HealRequest) (*ChangeSet, error)

	// Review performs a static-review pass over a final diff.
	Review(ctx context.Context, req ReviewRequest) ([]Finding, error)
}

// AnalysisRequest carries the issue description and optional target-file
// hints.
type AnalysisRequest struct {
	IssueDescription string   `json:"issue_description"`
	TargetFiles      []string `json:"target_files,omitempty"`
}

// Analysis is the root-cause/solution/candidate-files result.
type Analysis struct {
	RootCause        string   `json:"root_cause" validate:"required"`
	ProposedSolution string   `json:"proposed_solution" validate:"required"`
	FilesToModify    []string `json:"files_to_modify" validate:"required,min=1,dive,required"`
	Risks            []string `json:"risks"`
	TestingPlan      string   `json:"testing_plan"`
}

// GenerationRequest asks for concrete modifications implementing an analysis.
type GenerationRequest struct {
	IssueDescription string   `json:"issue_description"`
	Analysis         Analysis `json:"analysis"`

	// OriginalFiles maps candidate file paths to their current content, empty
	// for files that do not exist yet.
	OriginalFiles map[string]string `json:"original_files,omitempty"`
}

// HealRequest asks for a corrective patch after validation failures.
type HealRequest struct {
	IssueDescription string `json:"issue_description"`

	// ErrorContext is the concatenated output of the failed validation steps.
	ErrorContext string `json:"error_context"`

	// CurrentFiles maps file paths to their content after the failing
	// attempt.
	CurrentFiles map[string]string `json:"current_files,omitempty"`
}

// FileChange is one proposed file modification. Content is the complete
// updated file content.
type FileChange struct {
	Path        string `json:"file" validate:"required"`
	Content     string `json:"modifications"`
	Explanation string `json:"explanation"`
}

// ChangeSet is the structured result of a generation or heal call. Either
// slice may be empty on its own; a set naming no files at all is rejected
// after schema validation.
type ChangeSet struct {
	Changes      []FileChange `json:"changes" validate:"dive"`
	NewFiles     []FileChange `json:"new_files" validate:"dive"`
	Dependencies []string     `json:"dependencies"`
}

// Empty reports whether the set proposes no modified and no new files.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Changes)+len(cs.NewFiles) == 0
}

// AllChanges returns modified and new files as one slice.
func (cs *ChangeSet) AllChanges() []FileChange {
	out := make([]FileChange, 0, len(cs.Changes)+len(cs.NewFiles))
	out = append(out, cs.Changes...)
	out = append(out, cs.NewFiles...)
	return out
}

// ReviewRequest asks for a static review of the final diff.
type ReviewRequest struct {
	IssueDescription string `json:"issue_description"`
	DiffText         string `json:"diff_text"`
}

// Finding is one structured review finding.
type Finding struct {
	Severity    string `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW INFO"`
	FilePath    string `json:"file_path" validate:"required"`
	Line        int    `json:"line,omitempty"`
	Issue       string `json:"issue" validate:"required"`
	Explanation string `json:"explanation"`
	Suggestion  string `json:"suggestion,omitempty"`
	Category    string `json:"category"`
}
