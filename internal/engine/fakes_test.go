package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/validation"
	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

// memStore is a map-backed Store for engine tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*FixSession
	audits   map[string][]AuditEntry

	failAudit bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*FixSession),
		audits:   make(map[string][]AuditEntry),
	}
}

func (m *memStore) CreateSession(_ context.Context, s *FixSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) UpdateSession(_ context.Context, s *FixSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*FixSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) ListSessions(_ context.Context) ([]*FixSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*FixSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) AppendAudit(_ context.Context, sessionID string, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAudit {
		return fmt.Errorf("audit write refused")
	}
	m.audits[sessionID] = append(m.audits[sessionID], e)
	return nil
}

func (m *memStore) ListAudit(_ context.Context, sessionID string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audits[sessionID], nil
}

func (m *memStore) Close() error { return nil }

// fakeOracle scripts oracle responses per operation.
type fakeOracle struct {
	mu          sync.Mutex
	analyzeErr  error
	generateErr error
	healErr     error
	reviewErr   error

	analysis *oracle.Analysis
	changes  *oracle.ChangeSet
	healSet  *oracle.ChangeSet
	findings []oracle.Finding

	healCalls   int
	reviewCalls int

	analyzeCtx context.Context
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		analysis: &oracle.Analysis{
			RootCause:        "nil user dereference in session handler",
			ProposedSolution: "guard the lookup and return 401",
			FilesToModify:    []string{"internal/app/server.go"},
		},
		changes: &oracle.ChangeSet{
			Changes: []oracle.FileChange{{
				Path:        "internal/app/server.go",
				Content:     "package app\n\nfunc handle() int { return 1 }\n",
				Explanation: "add nil guard",
			}},
		},
		healSet: &oracle.ChangeSet{
			Changes: []oracle.FileChange{{
				Path:        "internal/app/server.go",
				Content:     "package app\n\nfunc handle() int { return 2 }\n",
				Explanation: "fix off-by-one",
			}},
		},
	}
}

func (f *fakeOracle) Analyze(ctx context.Context, _ oracle.AnalysisRequest) (*oracle.Analysis, error) {
	f.mu.Lock()
	f.analyzeCtx = ctx
	f.mu.Unlock()
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.analysis, nil
}

func (f *fakeOracle) Generate(context.Context, oracle.GenerationRequest) (*oracle.ChangeSet, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.changes, nil
}

func (f *fakeOracle) Heal(context.Context, oracle.HealRequest) (*oracle.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healErr != nil {
		return nil, f.healErr
	}
	f.healCalls++
	return f.healSet, nil
}

func (f *fakeOracle) Review(context.Context, oracle.ReviewRequest) ([]oracle.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewCalls++
	if f.reviewErr != nil {
		return nil, f.reviewErr
	}
	return f.findings, nil
}

// scriptedRunner returns each scripted result set in order, repeating the
// last one.
type scriptedRunner struct {
	mu     sync.Mutex
	script [][]validation.StepResult
	calls  int
}

func passResults() []validation.StepResult {
	return []validation.StepResult{
		{Step: validation.StepTypecheck, Passed: true, Output: "ok"},
		{Step: validation.StepLint, Passed: true, Output: "ok"},
		{Step: validation.StepUnitTest, Passed: true, Output: "ok"},
	}
}

func failResults() []validation.StepResult {
	return []validation.StepResult{
		{Step: validation.StepTypecheck, Passed: true, Output: "ok"},
		{Step: validation.StepLint, Passed: true, Output: "ok"},
		{Step: validation.StepUnitTest, Passed: false, Output: "assertion failed: want 2, got 1"},
	}
}

func (r *scriptedRunner) Run(context.Context, []string) ([]validation.StepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	r.calls++
	return r.script[i], nil
}

// fakePublisher records publish operations.
type fakePublisher struct {
	mu sync.Mutex

	getFileErr      error
	createBranchErr error
	commitErr       error
	createPRErr     error
	commentErr      error

	branches []string
	commits  []map[string]string
	requests []vcs.ChangeRequest
	comments []string
}

func (p *fakePublisher) GetFile(_ context.Context, _ vcs.Repo, path, _ string) (*vcs.FileContent, error) {
	if p.getFileErr != nil {
		return nil, p.getFileErr
	}
	return &vcs.FileContent{Path: path, Content: "package app\n\nfunc handle() int { return 0 }\n", SHA: "orig"}, nil
}

func (p *fakePublisher) CreateBranch(_ context.Context, _ vcs.Repo, branch, _ string) error {
	if p.createBranchErr != nil {
		return p.createBranchErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.branches = append(p.branches, branch)
	return nil
}

func (p *fakePublisher) CommitFiles(_ context.Context, _ vcs.Repo, _, _ string, files map[string]string) (string, error) {
	if p.commitErr != nil {
		return "", p.commitErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commits = append(p.commits, files)
	return "commit-sha", nil
}

func (p *fakePublisher) CreateChangeRequest(_ context.Context, _ vcs.Repo, req vcs.ChangeRequest) (*vcs.ChangeRequestResult, error) {
	if p.createPRErr != nil {
		return nil, p.createPRErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return &vcs.ChangeRequestResult{Number: 7, URL: "https://github.example.com/acme/api/pull/7"}, nil
}

func (p *fakePublisher) PostComment(_ context.Context, _ vcs.Repo, _ int, body string) error {
	if p.commentErr != nil {
		return p.commentErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comments = append(p.comments, body)
	return nil
}

// testEngine wires a service over fakes with a pass-only runner by default.
type testEngine struct {
	svc       Service
	store     *memStore
	oracle    *fakeOracle
	runner    *scriptedRunner
	publisher *fakePublisher
	config    *Config
}

func newTestEngine(mutate ...func(*testEngine)) (*testEngine, error) {
	te := &testEngine{
		store:     newMemStore(),
		oracle:    newFakeOracle(),
		runner:    &scriptedRunner{script: [][]validation.StepResult{passResults()}},
		publisher: &fakePublisher{},
		config:    DefaultConfig(),
	}
	te.config.Repo = vcs.Repo{Owner: "acme", Name: "api"}
	for _, m := range mutate {
		m(te)
	}

	svc, err := NewService(te.config, te.store, te.oracle, te.runner, te.publisher, nil)
	if err != nil {
		return nil, err
	}
	te.svc = svc
	return te, nil
}
