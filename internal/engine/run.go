package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/diff"
	"github.com/fyrsmithlabs/fixd/internal/logging"
	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/risk"
	"github.com/fyrsmithlabs/fixd/internal/validation"
)

// auditDetailCap bounds free-text details in audit entries.
const auditDetailCap = 2000

// RunSession drives a session synchronously to a terminal phase and returns
// its result.
func (e *service) RunSession(ctx context.Context, id string) (*Result, error) {
	// Register before loading so Cancel sees the session as running and
	// only sets the flag instead of writing CANCELLED underneath us.
	e.running.Store(id, struct{}{})
	defer func() {
		e.running.Delete(id)
		e.cancels.Delete(id)
	}()

	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Phase != PhaseAnalyzing {
		return nil, fmt.Errorf("session %s is in phase %s, expected %s", id, s.Phase, PhaseAnalyzing)
	}

	// A cancel that raced session pickup has already set the flag; honor it
	// before the first phase write.
	if e.checkCancelled(ctx, s) {
		return ResultOf(s), nil
	}

	e.run(logging.WithSessionID(ctx, id), s)
	return ResultOf(s), nil
}

// run is the phase state machine. It always leaves the session in a terminal
// phase; orchestration errors are captured on the session rather than
// returned.
func (e *service) run(ctx context.Context, s *FixSession) {
	ctx, span := e.tracer.Start(ctx, "engine.run_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", s.ID),
		attribute.String("project_id", s.ProjectID),
	)

	start := time.Now()
	defer func() {
		if e.sessionDuration != nil {
			e.sessionDuration.Record(ctx, time.Since(start).Seconds(),
				metricPhaseAttr(s.Phase))
		}
		if e.terminalCounter != nil {
			e.terminalCounter.Add(ctx, 1, metricPhaseAttr(s.Phase))
		}
		if s.Phase == PhaseFailed {
			span.SetStatus(codes.Error, s.ErrorMessage)
		}
	}()

	e.audit(ctx, s, "session started", AuditInfo, "")

	analysis, ok := e.analyze(ctx, s)
	if !ok || e.checkCancelled(ctx, s) {
		return
	}

	originals, files, ok := e.generate(ctx, s, analysis)
	if !ok || e.checkCancelled(ctx, s) {
		return
	}

	e.assessRisk(ctx, s)

	if !e.validateAndHeal(ctx, s, originals, files) {
		return
	}
	if e.checkCancelled(ctx, s) {
		return
	}

	if s.AIReview {
		if !e.review(ctx, s) {
			return
		}
		if e.checkCancelled(ctx, s) {
			return
		}
	}

	e.publish(ctx, s, files)
}

// analyze runs the ANALYZING phase.
func (e *service) analyze(ctx context.Context, s *FixSession) (*oracle.Analysis, bool) {
	analysis, err := e.oracle.Analyze(ctx, oracle.AnalysisRequest{
		IssueDescription: s.IssueDescription,
		TargetFiles:      s.TargetFiles,
	})
	if err != nil {
		gerr := &GenerationError{Op: "analyze", Err: err}
		e.audit(ctx, s, "analysis", AuditFailure, gerr.Error())
		e.fail(ctx, s, gerr)
		return nil, false
	}

	s.Analysis = analysis
	e.persist(ctx, s)
	e.audit(ctx, s, "analysis completed", AuditSuccess,
		fmt.Sprintf("%d candidate files, root cause: %s", len(analysis.FilesToModify), capDetail(analysis.RootCause)))
	return analysis, true
}

// generate runs the GENERATING phase: fetch originals, call the oracle,
// record the first attempt. Returns the original and current file content
// maps.
func (e *service) generate(ctx context.Context, s *FixSession, analysis *oracle.Analysis) (map[string]string, map[string]string, bool) {
	if err := e.setPhase(ctx, s, PhaseGenerating); err != nil {
		e.fail(ctx, s, err)
		return nil, nil, false
	}
	if len(s.Attempts) > 0 {
		e.audit(ctx, s, "generation refused", AuditFailure, ErrAlreadyGenerated.Error())
		e.fail(ctx, s, ErrAlreadyGenerated)
		return nil, nil, false
	}

	originals := make(map[string]string, len(analysis.FilesToModify))
	for _, path := range analysis.FilesToModify {
		fc, err := e.publisher.GetFile(ctx, s.Repo, path, s.BaseBranch)
		if err != nil {
			// Missing files are treated as new; the oracle receives an empty
			// original.
			e.logger.Debug("could not fetch original file, treating as new",
				zap.String("session_id", s.ID),
				zap.String("path", path),
				zap.Error(err))
			originals[path] = ""
			continue
		}
		originals[path] = fc.Content
	}

	req := oracle.GenerationRequest{
		IssueDescription: s.IssueDescription,
		Analysis:         *analysis,
		OriginalFiles:    originals,
	}
	changeSet, err := e.oracle.Generate(ctx, req)
	if err != nil {
		gerr := &GenerationError{Op: "generate", Err: err}
		e.audit(ctx, s, "generation", AuditFailure, gerr.Error())
		e.fail(ctx, s, gerr)
		return nil, nil, false
	}

	files := make(map[string]string, len(originals))
	for path, content := range originals {
		files[path] = content
	}
	attempt := e.recordAttempt(ctx, s, AttemptGenerate, changeSet, originals, files, req)
	e.audit(ctx, s, "generation completed", AuditSuccess,
		fmt.Sprintf("attempt %d modified %d files", attempt.Number, len(attempt.FilesModified)))
	return originals, files, true
}

// recordAttempt applies a change set to files, builds per-file patches
// against the original baseline and appends a FixAttempt.
func (e *service) recordAttempt(ctx context.Context, s *FixSession, kind AttemptKind, cs *oracle.ChangeSet, originals, files map[string]string, request any) *FixAttempt {
	changes := cs.AllChanges()
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		files[ch.Path] = ch.Content
		if _, ok := originals[ch.Path]; !ok {
			originals[ch.Path] = ""
		}
		paths = append(paths, ch.Path)
	}
	sort.Strings(paths)

	patches := make([]PatchPlan, 0, len(paths))
	for _, path := range paths {
		plan := PatchPlan{
			FilePath:        path,
			OriginalContent: originals[path],
			UpdatedContent:  files[path],
		}
		p, err := diff.BuildWithLimits(path, originals[path], files[path], e.config.ContextLines, e.config.DiffLimits)
		if err != nil {
			e.logger.Warn("diff construction failed",
				zap.String("session_id", s.ID),
				zap.String("path", path),
				zap.Error(err))
			plan.UnifiedDiff = fmt.Sprintf("diff unavailable: %v", err)
		} else {
			plan.UnifiedDiff = p.Text
			plan.Stats = p.Stats
		}
		patches = append(patches, plan)
	}

	reqJSON, err := json.Marshal(request)
	if err != nil {
		reqJSON = []byte(fmt.Sprintf("%+v", request))
	}
	respJSON, err := json.Marshal(cs)
	if err != nil {
		respJSON = []byte(fmt.Sprintf("%+v", cs))
	}

	attempt := FixAttempt{
		Number:        len(s.Attempts) + 1,
		Kind:          kind,
		FilesModified: paths,
		Request:       string(reqJSON),
		Response:      string(respJSON),
		Patches:       patches,
		CreatedAt:     time.Now().UTC(),
	}
	s.Attempts = append(s.Attempts, attempt)
	e.persist(ctx, s)
	return s.CurrentAttempt()
}

// assessRisk scores the latest attempt. Scoring failures are informational:
// the assessment is omitted and the session continues.
func (e *service) assessRisk(ctx context.Context, s *FixSession) {
	attempt := s.CurrentAttempt()
	if attempt == nil {
		return
	}

	assessment, err := safeCalculateRisk(attempt)
	if err != nil {
		rerr := &RiskComputationError{Err: err}
		e.logger.Warn("risk assessment skipped", zap.String("session_id", s.ID), zap.Error(rerr))
		e.audit(ctx, s, "risk assessment skipped", AuditInfo, rerr.Error())
		return
	}

	s.Risk = assessment
	e.persist(ctx, s)
	e.audit(ctx, s, "risk assessed", AuditInfo,
		fmt.Sprintf("level %s, score %d", assessment.Level, assessment.Score))
}

// safeCalculateRisk isolates the scorer so a panic there degrades to an
// omitted assessment instead of killing the session.
func safeCalculateRisk(attempt *FixAttempt) (assessment *risk.Assessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			assessment = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	added, removed := countLineChanges(attempt.Patches)
	a := risk.Calculate(risk.Input{
		FilesChanged: attempt.FilesModified,
		LinesAdded:   added,
		LinesRemoved: removed,
	})
	return &a, nil
}

// countLineChanges tallies added and removed lines across patches.
func countLineChanges(patches []PatchPlan) (added, removed int) {
	for _, p := range patches {
		for _, line := range strings.Split(p.UnifiedDiff, "\n") {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed
}

// validateAndHeal runs the VALIDATING/SELF_HEALING loop. It returns false
// when the session reached a terminal phase.
func (e *service) validateAndHeal(ctx context.Context, s *FixSession, originals, files map[string]string) bool {
	for {
		if e.checkCancelled(ctx, s) {
			return false
		}
		if err := e.setPhase(ctx, s, PhaseValidating); err != nil {
			e.fail(ctx, s, err)
			return false
		}

		attempt := s.CurrentAttempt()
		e.audit(ctx, s, "validation started", AuditInfo, fmt.Sprintf("attempt %d", attempt.Number))

		results, err := e.runner.Run(ctx, sortedPaths(files))
		if err != nil {
			e.audit(ctx, s, "validation aborted", AuditFailure, err.Error())
			e.fail(ctx, s, fmt.Errorf("validation runner: %w", err))
			return false
		}

		for _, r := range results {
			s.Validations = append(s.Validations, ValidationRecord{
				AttemptNumber: attempt.Number,
				Step:          r.Step,
				Passed:        r.Passed,
				Output:        r.Output,
				DurationMs:    r.Duration.Milliseconds(),
			})
		}
		e.persist(ctx, s)

		if validation.AllPassed(results) {
			attempt.Success = true
			s.ValidationPassed = true
			e.persist(ctx, s)
			e.audit(ctx, s, "validation passed", AuditSuccess,
				fmt.Sprintf("attempt %d, %d steps", attempt.Number, len(results)))
			return true
		}

		summary := validation.FailureSummary(results)
		e.audit(ctx, s, "validation failed", AuditFailure, capDetail(summary))

		if !s.SelfHealing {
			e.fail(ctx, s, errors.New("validation failed and self-healing is disabled"))
			return false
		}
		if s.RetryCount >= s.MaxRetries {
			if e.config.DraftOnExhausted {
				s.ManualIntervention = true
				e.persist(ctx, s)
				e.audit(ctx, s, "retries exhausted", AuditFailure,
					fmt.Sprintf("%d retries used, packaging draft change request for manual intervention", s.RetryCount))
				return true
			}
			e.fail(ctx, s, fmt.Errorf("validation still failing after %d retries", s.RetryCount))
			return false
		}

		s.RetryCount++
		if err := e.setPhase(ctx, s, PhaseSelfHealing); err != nil {
			e.fail(ctx, s, err)
			return false
		}
		if e.healCounter != nil {
			e.healCounter.Add(ctx, 1)
		}
		e.audit(ctx, s, "self-heal requested", AuditInfo,
			fmt.Sprintf("retry %d of %d", s.RetryCount, s.MaxRetries))

		req := oracle.HealRequest{
			IssueDescription: s.IssueDescription,
			ErrorContext:     summary,
			CurrentFiles:     files,
		}
		healSet, err := e.oracle.Heal(ctx, req)
		if err != nil {
			gerr := &GenerationError{Op: "heal", Err: err}
			e.audit(ctx, s, "self-heal", AuditFailure, gerr.Error())
			e.fail(ctx, s, gerr)
			return false
		}

		attempt = e.recordAttempt(ctx, s, AttemptHeal, healSet, originals, files, req)
		e.audit(ctx, s, "self-heal completed", AuditSuccess,
			fmt.Sprintf("attempt %d modified %d files", attempt.Number, len(attempt.FilesModified)))
	}
}

// review runs the optional REVIEWING phase.
func (e *service) review(ctx context.Context, s *FixSession) bool {
	if err := e.setPhase(ctx, s, PhaseReviewing); err != nil {
		e.fail(ctx, s, err)
		return false
	}

	findings, err := e.oracle.Review(ctx, oracle.ReviewRequest{
		IssueDescription: s.IssueDescription,
		DiffText:         combinedDiff(s),
	})
	if err != nil {
		gerr := &GenerationError{Op: "review", Err: err}
		e.audit(ctx, s, "review", AuditFailure, gerr.Error())
		e.fail(ctx, s, gerr)
		return false
	}

	s.Findings = make([]ReviewFinding, 0, len(findings))
	for _, f := range findings {
		s.Findings = append(s.Findings, ReviewFinding{Finding: f})
	}
	e.persist(ctx, s)
	e.audit(ctx, s, "review completed", AuditSuccess,
		fmt.Sprintf("%d findings, %d blocking", len(findings), countBlocking(s.Findings)))
	return true
}

// publish runs PR_CREATED → READY: branch, commit, change request, upstream
// comments.
func (e *service) publish(ctx context.Context, s *FixSession, files map[string]string) {
	s.Draft = !s.ValidationPassed || countBlocking(s.Findings) > 0
	if s.BranchName == "" {
		s.BranchName = "fixd/" + shortID(s.ID)
	}

	if err := e.setPhase(ctx, s, PhasePRCreated); err != nil {
		e.fail(ctx, s, err)
		return
	}

	unlock := e.locks.Acquire(s.Repo, s.BranchName)
	defer unlock()

	if err := e.publisher.CreateBranch(ctx, s.Repo, s.BranchName, s.BaseBranch); err != nil {
		verr := &VCSError{Op: "create branch", Err: err}
		e.audit(ctx, s, "branch creation", AuditFailure, verr.Error())
		e.fail(ctx, s, verr)
		return
	}
	e.audit(ctx, s, "branch created", AuditSuccess, s.BranchName)

	sha, err := e.publisher.CommitFiles(ctx, s.Repo, s.BranchName, commitMessage(s), files)
	if err != nil {
		verr := &VCSError{Op: "commit files", Err: err}
		e.audit(ctx, s, "commit", AuditFailure, verr.Error())
		e.fail(ctx, s, verr)
		return
	}
	e.audit(ctx, s, "files committed", AuditSuccess, sha)

	res, err := e.publisher.CreateChangeRequest(ctx, s.Repo, vcsChangeRequest(s))
	if err != nil {
		verr := &VCSError{Op: "create change request", Err: err}
		e.audit(ctx, s, "change request", AuditFailure, verr.Error())
		e.fail(ctx, s, verr)
		return
	}
	s.PRNumber = res.Number
	s.PRURL = res.URL
	e.persist(ctx, s)
	e.audit(ctx, s, "change request created", AuditSuccess,
		fmt.Sprintf("#%d draft=%t", res.Number, s.Draft))

	e.postFindings(ctx, s)

	if err := e.setPhase(ctx, s, PhaseReady); err != nil {
		e.fail(ctx, s, err)
		return
	}
	now := time.Now().UTC()
	s.CompletedAt = &now
	e.persist(ctx, s)
	e.audit(ctx, s, "session completed", AuditSuccess, res.URL)

	e.logger.Info("fix session completed",
		zap.String("session_id", s.ID),
		zap.Int("pr_number", s.PRNumber),
		zap.Bool("draft", s.Draft),
		zap.Int("retries", s.RetryCount))
}

// postFindings posts blocking findings as upstream comments. A comment
// failure is logged; the session still completes.
func (e *service) postFindings(ctx context.Context, s *FixSession) {
	for i := range s.Findings {
		f := &s.Findings[i]
		if f.Severity != "CRITICAL" && f.Severity != "HIGH" {
			continue
		}
		body := fmt.Sprintf("**%s** `%s`", f.Severity, f.FilePath)
		if f.Line > 0 {
			body += fmt.Sprintf(" line %d", f.Line)
		}
		body += "\n\n" + f.Issue
		if f.Suggestion != "" {
			body += "\n\nSuggestion: " + f.Suggestion
		}
		if err := e.publisher.PostComment(ctx, s.Repo, s.PRNumber, body); err != nil {
			e.logger.Warn("failed to post finding comment",
				zap.String("session_id", s.ID),
				zap.Error(err))
			continue
		}
		f.PostedUpstream = true
	}
	e.persist(ctx, s)
}

// fail moves the session to FAILED with the error retained.
func (e *service) fail(ctx context.Context, s *FixSession, err error) {
	s.ErrorMessage = err.Error()
	if cerr := e.setPhase(ctx, s, PhaseFailed); cerr != nil {
		e.logger.Error("could not fail session", zap.String("session_id", s.ID), zap.Error(cerr))
		return
	}
	now := time.Now().UTC()
	s.CompletedAt = &now
	e.persist(ctx, s)
	e.audit(ctx, s, "session failed", AuditFailure, s.ErrorMessage)
	e.logger.Error("fix session failed", zap.String("session_id", s.ID), zap.Error(err))
}

// checkCancelled moves the session to CANCELLED when a cancellation request
// is pending.
func (e *service) checkCancelled(ctx context.Context, s *FixSession) bool {
	if _, ok := e.cancels.Load(s.ID); !ok {
		return false
	}
	e.markCancelled(ctx, s)
	return true
}

func (e *service) markCancelled(ctx context.Context, s *FixSession) {
	if err := e.setPhase(ctx, s, PhaseCancelled); err != nil {
		e.logger.Error("could not cancel session", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	s.CompletedAt = &now
	e.persist(ctx, s)
	e.audit(ctx, s, "session cancelled", AuditInfo, "")
	e.logger.Info("fix session cancelled", zap.String("session_id", s.ID))
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// combinedDiff concatenates the latest attempt's per-file diffs.
func combinedDiff(s *FixSession) string {
	attempt := s.CurrentAttempt()
	if attempt == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range attempt.Patches {
		sb.WriteString(p.UnifiedDiff)
		if !strings.HasSuffix(p.UnifiedDiff, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func countBlocking(findings []ReviewFinding) int {
	n := 0
	for _, f := range findings {
		if f.Severity == "CRITICAL" || f.Severity == "HIGH" {
			n++
		}
	}
	return n
}

func capDetail(s string) string {
	if len(s) <= auditDetailCap {
		return s
	}
	return s[:auditDetailCap] + "... (truncated)"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
