// Package validation executes ordered verification steps over a change and
// reports structured pass/fail results per step.
//
// A failing step never short-circuits the remaining steps: all configured
// steps always run and are reported together, so the caller sees the complete
// picture in one call. Validation failures are data, not errors; Run returns
// a non-nil error only when a step could not be executed at all.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Step identifies a verification step.
type Step string

const (
	StepTypecheck Step = "typecheck"
	StepLint      Step = "lint"
	StepUnitTest  Step = "unit_test"
	StepE2E       Step = "e2e_test"
)

// StepResult is the outcome of one verification step.
type StepResult struct {
	Step     Step          `json:"step"`
	Passed   bool          `json:"passed"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Runner executes the verification steps for a set of changed files.
type Runner interface {
	Run(ctx context.Context, changedFiles []string) ([]StepResult, error)
}

// AllPassed reports whether every step in results passed.
func AllPassed(results []StepResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FailureSummary concatenates the outputs of failed steps into a single blob
// suitable for a corrective-patch request.
func FailureSummary(results []StepResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&sb, "step %s failed:\n%s\n", r.Step, r.Output)
	}
	return sb.String()
}

// simulatedLintThreshold is the changed-file count at which the simulated
// lint step starts failing.
const simulatedLintThreshold = 50

// Simulated is a deterministic stand-in for environments without a live
// toolchain. Typecheck and tests always pass; lint fails only when the
// changed-file count reaches the threshold.
type Simulated struct {
	// IncludeE2E adds the optional e2e step to the run.
	IncludeE2E bool
}

// Run implements Runner.
func (s *Simulated) Run(_ context.Context, changedFiles []string) ([]StepResult, error) {
	results := []StepResult{
		{Step: StepTypecheck, Passed: true, Output: "typecheck passed (simulated)"},
	}

	if len(changedFiles) >= simulatedLintThreshold {
		results = append(results, StepResult{
			Step:   StepLint,
			Passed: false,
			Output: fmt.Sprintf("lint failed (simulated): %d changed files exceeds review threshold", len(changedFiles)),
		})
	} else {
		results = append(results, StepResult{Step: StepLint, Passed: true, Output: "lint passed (simulated)"})
	}

	results = append(results, StepResult{Step: StepUnitTest, Passed: true, Output: "tests passed (simulated)"})
	if s.IncludeE2E {
		results = append(results, StepResult{Step: StepE2E, Passed: true, Output: "e2e passed (simulated)"})
	}
	return results, nil
}
