package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/fixd/internal/logging"
	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/validation"
)

func newSession(t *testing.T, te *testEngine, mutate ...func(*FixRequest)) *FixSession {
	t.Helper()
	req := &FixRequest{
		ProjectID:        "acme/api",
		IssueDescription: "session handler panics on expired tokens",
	}
	for _, m := range mutate {
		m(req)
	}
	s, err := te.svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	return s
}

func TestRunSession_AllPass(t *testing.T) {
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, PhaseReady, res.Phase)
	assert.True(t, res.ValidationPassed)
	assert.Equal(t, 0, res.RetryCount)
	assert.Equal(t, 7, res.PRNumber)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, final.Attempts, 1)
	assert.Equal(t, 1, final.Attempts[0].Number)
	assert.Equal(t, AttemptGenerate, final.Attempts[0].Kind)
	assert.True(t, final.Attempts[0].Success)
	assert.False(t, final.Draft)
	assert.NotNil(t, final.CompletedAt)
	assert.NotEmpty(t, res.AuditTrail)
}

func TestRunSession_AttemptRecordsOracleExchange(t *testing.T) {
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te)

	_, err = te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, final.Attempts, 1)
	assert.NotEmpty(t, final.Attempts[0].Request)

	// Per-file explanations and dependencies survive in the persisted
	// response, not just the applied content.
	var cs oracle.ChangeSet
	require.NoError(t, json.Unmarshal([]byte(final.Attempts[0].Response), &cs))
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, "add nil guard", cs.Changes[0].Explanation)
}

func TestRunSession_ContextCarriesSessionID(t *testing.T) {
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te)

	_, err = te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	require.NotNil(t, te.oracle.analyzeCtx)
	assert.Equal(t, s.ID, logging.SessionIDFromContext(te.oracle.analyzeCtx))
}

func TestRunSession_NewFileOnlyFix(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.oracle.changes = &oracle.ChangeSet{
			NewFiles: []oracle.FileChange{{
				Path:        "docs/runbook.md",
				Content:     "# Runbook\n",
				Explanation: "add incident runbook",
			}},
		}
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, PhaseReady, res.Phase)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, final.Attempts, 1)
	assert.Contains(t, final.Attempts[0].FilesModified, "docs/runbook.md")
}

func TestRunSession_FailThenPass(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.runner = &scriptedRunner{script: [][]validation.StepResult{failResults(), passResults()}}
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseReady, res.Phase)
	assert.Equal(t, 1, res.RetryCount)
	assert.True(t, res.ValidationPassed)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, final.Attempts, 2)
	assert.Equal(t, []AttemptKind{AttemptGenerate, AttemptHeal},
		[]AttemptKind{final.Attempts[0].Kind, final.Attempts[1].Kind})
	assert.Equal(t, 2, final.Attempts[1].Number)
	assert.Equal(t, 1, te.oracle.healCalls)

	byAttempt := map[int]int{}
	for _, v := range final.Validations {
		byAttempt[v.AttemptNumber]++
	}
	assert.Equal(t, 3, byAttempt[1])
	assert.Equal(t, 3, byAttempt[2])
}

func TestRunSession_RetriesExhausted_Draft(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.runner = &scriptedRunner{script: [][]validation.StepResult{failResults()}}
	})
	require.NoError(t, err)
	two := 2
	s := newSession(t, te, func(r *FixRequest) { r.MaxRetries = &two })

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseReady, res.Phase)
	assert.False(t, res.ValidationPassed)
	assert.Equal(t, 2, res.RetryCount)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, final.Draft)
	assert.True(t, final.ManualIntervention)
	require.Len(t, final.Attempts, 3)
	assert.GreaterOrEqual(t, len(final.Audit), 2*(final.MaxRetries+1))

	require.Len(t, te.publisher.requests, 1)
	assert.True(t, te.publisher.requests[0].Draft)
	assert.Contains(t, te.publisher.requests[0].Body, "manual completion")
}

func TestRunSession_RetriesExhausted_Failed(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.config.DraftOnExhausted = false
		te.runner = &scriptedRunner{script: [][]validation.StepResult{failResults()}}
	})
	require.NoError(t, err)
	one := 1
	s := newSession(t, te, func(r *FixRequest) { r.MaxRetries = &one })

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "retries")
	assert.Empty(t, te.publisher.requests)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(final.Audit), 2*(final.MaxRetries+1))
}

func TestRunSession_SelfHealingDisabled(t *testing.T) {
	off := false
	te, err := newTestEngine(func(te *testEngine) {
		te.runner = &scriptedRunner{script: [][]validation.StepResult{failResults()}}
	})
	require.NoError(t, err)
	s := newSession(t, te, func(r *FixRequest) { r.EnableSelfHealing = &off })

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Contains(t, res.Message, "self-healing is disabled")
	assert.Equal(t, 0, te.oracle.healCalls)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, final.Attempts, 1)
}

func TestRunSession_AnalyzeFailure(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.oracle.analyzeErr = errors.New("service unreachable")
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Contains(t, res.Message, "generation failed during analyze")

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Empty(t, final.Attempts)
}

func TestRunSession_GenerateFailure(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.oracle.generateErr = errors.New("response failed schema validation")
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Contains(t, res.Message, "generation failed during generate")
}

func TestRunSession_VCSFailure(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.publisher.createBranchErr = errors.New("403 forbidden")
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Contains(t, res.Message, "vcs operation create branch")

	// The generated patch stays available for manual replay.
	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, final.Attempts, 1)
	require.NotEmpty(t, final.Attempts[0].Patches)
	assert.NotEmpty(t, final.Attempts[0].Patches[0].UnifiedDiff)
}

func TestRunSession_BlockingFindingsForceDraft(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.oracle.findings = []oracle.Finding{
			{Severity: "CRITICAL", FilePath: "internal/app/server.go", Line: 3, Issue: "token not verified", Category: "security"},
			{Severity: "INFO", FilePath: "internal/app/server.go", Issue: "missing doc comment"},
		}
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseReady, res.Phase)
	require.Len(t, res.ReviewFindings, 2)

	final, err := te.svc.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, final.Draft)
	assert.True(t, final.Findings[0].PostedUpstream)
	assert.False(t, final.Findings[1].PostedUpstream)
	require.Len(t, te.publisher.comments, 1)
	assert.Contains(t, te.publisher.comments[0], "CRITICAL")
}

func TestRunSession_ReviewDisabled(t *testing.T) {
	off := false
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te, func(r *FixRequest) { r.EnableAIReview = &off })

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, PhaseReady, res.Phase)
	assert.Equal(t, 0, te.oracle.reviewCalls)
	assert.Empty(t, res.ReviewFindings)
}

func TestRunSession_ReviewFailureFailsSession(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.oracle.reviewErr = errors.New("not valid JSON")
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Contains(t, res.Message, "generation failed during review")
}

func TestRunSession_AuditWriteNeverBlocks(t *testing.T) {
	te, err := newTestEngine(func(te *testEngine) {
		te.store.failAudit = true
	})
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseReady, res.Phase)
	// In-memory trail is still complete even though persistence refused it.
	assert.NotEmpty(t, res.AuditTrail)
}

func TestRunSession_PRBodyContent(t *testing.T) {
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te)

	_, err = te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	require.Len(t, te.publisher.requests, 1)
	body := te.publisher.requests[0].Body
	assert.Contains(t, body, "Root Cause")
	assert.Contains(t, body, "nil user dereference")
	assert.Contains(t, body, "| Attempt | Step | Result | Duration |")
	assert.Contains(t, body, "Audit trail")
}

func TestRunSession_AuditSequenceOrdered(t *testing.T) {
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te)

	res, err := te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	for i, e := range res.AuditTrail {
		assert.Equal(t, i+1, e.Sequence)
	}
}

func TestRunSession_RequiresAnalyzingPhase(t *testing.T) {
	te, err := newTestEngine()
	require.NoError(t, err)
	s := newSession(t, te)

	_, err = te.svc.RunSession(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = te.svc.RunSession(context.Background(), s.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected ANALYZING")
}
