package engine

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

const titleCap = 72

// prTitle derives a change-request title from the issue description.
func prTitle(s *FixSession) string {
	first := s.IssueDescription
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = strings.TrimSpace(first)
	title := "fix: " + first
	if len(title) > titleCap {
		title = title[:titleCap-3] + "..."
	}
	return title
}

func commitMessage(s *FixSession) string {
	return prTitle(s) + "\n\nAutomated fix session " + s.ID
}

func vcsChangeRequest(s *FixSession) vcs.ChangeRequest {
	return vcs.ChangeRequest{
		Title: prTitle(s),
		Body:  composePRBody(s),
		Head:  s.BranchName,
		Base:  s.BaseBranch,
		Draft: s.Draft,
	}
}

// composePRBody renders the change-request description: root cause, proposed
// solution, validation table, risk block, review summary and the full audit
// trail.
func composePRBody(s *FixSession) string {
	var sb strings.Builder

	sb.WriteString("## Automated Fix\n\n")
	fmt.Fprintf(&sb, "Session `%s` resolving:\n\n> %s\n\n", s.ID, strings.ReplaceAll(s.IssueDescription, "\n", "\n> "))

	if s.Analysis != nil {
		sb.WriteString("### Root Cause\n\n")
		sb.WriteString(s.Analysis.RootCause)
		sb.WriteString("\n\n### Proposed Solution\n\n")
		sb.WriteString(s.Analysis.ProposedSolution)
		sb.WriteString("\n\n")
	}

	if s.ManualIntervention {
		fmt.Fprintf(&sb, "> [!WARNING]\n> Validation did not pass after %d self-heal retries. This draft carries the best-effort patch and its failure history for manual completion.\n\n", s.RetryCount)
	}

	if len(s.Validations) > 0 {
		sb.WriteString("### Validation\n\n")
		sb.WriteString("| Attempt | Step | Result | Duration |\n|---|---|---|---|\n")
		for _, v := range s.Validations {
			result := "pass"
			if !v.Passed {
				result = "fail"
			}
			fmt.Fprintf(&sb, "| %d | %s | %s | %dms |\n", v.AttemptNumber, v.Step, result, v.DurationMs)
		}
		sb.WriteString("\n")
	}

	if s.Risk != nil {
		fmt.Fprintf(&sb, "### Risk: %s (%d/100)\n\n", s.Risk.Level, s.Risk.Score)
		for _, f := range s.Risk.Factors {
			fmt.Fprintf(&sb, "- **%s** (%s, +%d): %s\n", f.Category, f.Severity, f.Weight, f.Description)
		}
		if len(s.Risk.Recommendations) > 0 {
			sb.WriteString("\nRecommendations:\n")
			for _, r := range s.Risk.Recommendations {
				fmt.Fprintf(&sb, "- %s\n", r)
			}
		}
		sb.WriteString("\n")
	}

	if len(s.Findings) > 0 {
		fmt.Fprintf(&sb, "### Review Findings (%d)\n\n", len(s.Findings))
		for _, f := range s.Findings {
			loc := f.FilePath
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", f.FilePath, f.Line)
			}
			fmt.Fprintf(&sb, "- **%s** `%s`: %s\n", f.Severity, loc, f.Issue)
		}
		sb.WriteString("\n")
	}

	if len(s.Audit) > 0 {
		sb.WriteString("<details>\n<summary>Audit trail</summary>\n\n")
		for _, a := range s.Audit {
			fmt.Fprintf(&sb, "%d. `%s` [%s] %s (%s)", a.Sequence, a.Timestamp.Format("15:04:05"), a.Phase, a.Action, a.Result)
			if a.Details != "" {
				fmt.Fprintf(&sb, ": %s", firstLine(a.Details))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n</details>\n")
	}

	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
