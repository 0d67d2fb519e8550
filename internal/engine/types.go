package engine

import (
	"time"

	"github.com/fyrsmithlabs/fixd/internal/diff"
	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/risk"
	"github.com/fyrsmithlabs/fixd/internal/validation"
	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

// Phase is a fix session lifecycle phase.
type Phase string

const (
	PhaseAnalyzing   Phase = "ANALYZING"
	PhaseGenerating  Phase = "GENERATING"
	PhaseValidating  Phase = "VALIDATING"
	PhaseSelfHealing Phase = "SELF_HEALING"
	PhaseReviewing   Phase = "REVIEWING"
	PhasePRCreated   Phase = "PR_CREATED"
	PhaseReady       Phase = "READY"
	PhaseFailed      Phase = "FAILED"
	PhaseCancelled   Phase = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseReady, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// AuditResult classifies an audit entry.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditFailure AuditResult = "failure"
	AuditInfo    AuditResult = "info"
)

// AuditEntry is one ordered record of a session decision. Sequence numbers
// start at 1 and increase by one per entry within a session.
type AuditEntry struct {
	Sequence  int         `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
	Phase     Phase       `json:"phase"`
	Action    string      `json:"action"`
	Result    AuditResult `json:"result"`
	Details   string      `json:"details,omitempty"`
}

// PatchPlan is the materialized change for one file.
type PatchPlan struct {
	FilePath        string     `json:"file_path"`
	OriginalContent string     `json:"original_content"`
	UpdatedContent  string     `json:"updated_content"`
	UnifiedDiff     string     `json:"unified_diff"`
	Stats           diff.Stats `json:"stats"`
}

// AttemptKind distinguishes initial generation from corrective patches.
type AttemptKind string

const (
	AttemptGenerate AttemptKind = "generate"
	AttemptHeal     AttemptKind = "heal"
)

// FixAttempt is one generation or self-heal cycle. Numbers are 1-based and
// increase by exactly one per cycle.
type FixAttempt struct {
	Number        int         `json:"number"`
	Kind          AttemptKind `json:"kind"`
	FilesModified []string    `json:"files_modified"`
	Request       string      `json:"request"`
	Response      string      `json:"response"`
	Patches       []PatchPlan `json:"patches"`
	Success       bool        `json:"success"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ValidationRecord is the persisted outcome of one verification step within
// one attempt. Every step that runs produces exactly one record.
type ValidationRecord struct {
	AttemptNumber int             `json:"attempt_number"`
	Step          validation.Step `json:"step"`
	Passed        bool            `json:"passed"`
	Output        string          `json:"output"`
	DurationMs    int64           `json:"duration_ms"`
}

// ReviewFinding is a persisted static-review finding.
type ReviewFinding struct {
	oracle.Finding
	PostedUpstream bool `json:"posted_upstream"`
}

// FixSession is one end-to-end autonomous attempt to resolve a described
// issue. Sessions are mutated only by the engine and never deleted.
type FixSession struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	UserID           string   `json:"user_id,omitempty"`
	IssueDescription string   `json:"issue_description"`
	TargetFiles      []string `json:"target_files,omitempty"`

	Repo       vcs.Repo `json:"repo"`
	BaseBranch string   `json:"base_branch"`
	BranchName string   `json:"branch_name,omitempty"`

	Phase       Phase `json:"phase"`
	RetryCount  int   `json:"retry_count"`
	MaxRetries  int   `json:"max_retries"`
	RegenCount  int   `json:"regen_count"`
	SelfHealing bool  `json:"self_healing"`
	AIReview    bool  `json:"ai_review"`

	Analysis *oracle.Analysis `json:"analysis,omitempty"`
	Risk     *risk.Assessment `json:"risk,omitempty"`

	Attempts    []FixAttempt       `json:"attempts,omitempty"`
	Validations []ValidationRecord `json:"validations,omitempty"`
	Findings    []ReviewFinding    `json:"findings,omitempty"`

	ValidationPassed bool `json:"validation_passed"`
	// ManualIntervention is set when retries were exhausted and the change
	// request was packaged as a draft for a human to finish.
	ManualIntervention bool `json:"manual_intervention"`

	PRNumber int    `json:"pr_number,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	Draft    bool   `json:"draft"`

	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	Audit []AuditEntry `json:"audit,omitempty"`
}

// CurrentAttempt returns the latest attempt, or nil when none exist.
func (s *FixSession) CurrentAttempt() *FixAttempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// FixRequest creates a new fix session. Zero-valued optional fields inherit
// the engine defaults; MaxRetries may lower but never raise the configured
// budget.
type FixRequest struct {
	ProjectID        string   `json:"project_id" validate:"required"`
	UserID           string   `json:"user_id"`
	IssueDescription string   `json:"issue_description" validate:"required"`
	TargetFiles      []string `json:"target_files,omitempty"`

	MaxRetries        *int  `json:"max_retries,omitempty"`
	EnableSelfHealing *bool `json:"enable_self_healing,omitempty"`
	EnableAIReview    *bool `json:"enable_ai_review,omitempty"`
}

// Result is the externally visible outcome of a session.
type Result struct {
	Success          bool            `json:"success"`
	SessionID        string          `json:"session_id"`
	Phase            Phase           `json:"phase"`
	ValidationPassed bool            `json:"validation_passed"`
	RetryCount       int             `json:"retry_count"`
	PRNumber         int             `json:"pr_number,omitempty"`
	PRURL            string          `json:"pr_url,omitempty"`
	ReviewFindings   []ReviewFinding `json:"review_findings,omitempty"`
	Message          string          `json:"message"`
	AuditTrail       []AuditEntry    `json:"audit_trail"`
}

// ResultOf projects a session into its external result form.
func ResultOf(s *FixSession) *Result {
	msg := "fix session " + string(s.Phase)
	if s.ErrorMessage != "" {
		msg = s.ErrorMessage
	}
	return &Result{
		Success:          s.Phase == PhaseReady,
		SessionID:        s.ID,
		Phase:            s.Phase,
		ValidationPassed: s.ValidationPassed,
		RetryCount:       s.RetryCount,
		PRNumber:         s.PRNumber,
		PRURL:            s.PRURL,
		ReviewFindings:   s.Findings,
		Message:          msg,
		AuditTrail:       s.Audit,
	}
}
