package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/fixd/internal/diff"
	"github.com/fyrsmithlabs/fixd/internal/logging"
	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/validation"
	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

const instrumentationName = "github.com/fyrsmithlabs/fixd/internal/engine"

// Service drives fix sessions through their lifecycle.
type Service interface {
	// CreateSession persists a new session and enqueues it for processing.
	CreateSession(ctx context.Context, req *FixRequest) (*FixSession, error)

	// RunSession drives one session synchronously to a terminal phase.
	RunSession(ctx context.Context, id string) (*Result, error)

	// GetSession retrieves a session.
	GetSession(ctx context.Context, id string) (*FixSession, error)

	// ListSessions returns all sessions.
	ListSessions(ctx context.Context) ([]*FixSession, error)

	// Cancel requests cooperative cancellation of a non-terminal session.
	Cancel(ctx context.Context, id string) error

	// Regenerate clears a failed session's attempts and requeues it from
	// analysis. Successful and cancelled sessions refuse; the regeneration
	// count is capped.
	Regenerate(ctx context.Context, id string) (*FixSession, error)

	// Start launches the background workers.
	Start(ctx context.Context) error

	// Close stops the workers and waits for in-flight sessions.
	Close() error
}

// Config configures the fix engine.
type Config struct {
	// MaxRetries is the self-heal budget per session. Session requests may
	// lower it but never raise it.
	MaxRetries int

	// SelfHealing enables corrective-patch retries on validation failure.
	SelfHealing bool

	// AIReview enables the static-review phase.
	AIReview bool

	// MaxRegenerations caps explicit regenerations per session.
	MaxRegenerations int

	// Workers bounds concurrently running sessions.
	Workers int

	// QueueSize bounds sessions waiting to run.
	QueueSize int

	// DraftOnExhausted packages a draft change request when retries run out
	// instead of failing the session.
	DraftOnExhausted bool

	// ContextLines is the unified-diff context window.
	ContextLines int

	// DiffLimits bounds generated diff output.
	DiffLimits diff.Limits

	// Repo is the target repository.
	Repo vcs.Repo

	// BaseBranch is the branch fixes are based on and merged into.
	BaseBranch string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		SelfHealing:      true,
		AIReview:         true,
		MaxRegenerations: 3,
		Workers:          4,
		QueueSize:        64,
		DraftOnExhausted: true,
		ContextLines:     3,
		DiffLimits:       diff.DefaultLimits(),
		BaseBranch:       "main",
	}
}

// service implements the Service interface.
type service struct {
	config    *Config
	store     Store
	oracle    oracle.Oracle
	runner    validation.Runner
	publisher vcs.Publisher
	logger    *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	sessionCounter  metric.Int64Counter
	terminalCounter metric.Int64Counter
	healCounter     metric.Int64Counter
	sessionDuration metric.Float64Histogram

	locks *branchLocks
	queue chan string
	sem   *semaphore.Weighted

	// cancels holds session IDs with a pending cancellation request.
	// running holds session IDs currently being driven by a worker.
	cancels sync.Map
	running sync.Map

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates a fix engine. All collaborators are required except the
// logger.
func NewService(cfg *Config, store Store, orc oracle.Oracle, runner validation.Runner, publisher vcs.Publisher, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if orc == nil {
		return nil, errors.New("oracle is required")
	}
	if runner == nil {
		return nil, errors.New("validation runner is required")
	}
	if publisher == nil {
		return nil, errors.New("vcs publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		return nil, errors.New("workers must be at least 1")
	}
	if cfg.QueueSize < 1 {
		return nil, errors.New("queue size must be at least 1")
	}
	if cfg.Repo.Owner == "" || cfg.Repo.Name == "" {
		return nil, errors.New("target repository is required")
	}

	s := &service{
		config:    cfg,
		store:     store,
		oracle:    orc,
		runner:    runner,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		locks:     newBranchLocks(),
		queue:     make(chan string, cfg.QueueSize),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		done:      make(chan struct{}),
	}

	s.initMetrics()

	return s, nil
}

func (e *service) initMetrics() {
	var err error

	e.sessionCounter, err = e.meter.Int64Counter(
		"fixd.engine.sessions_total",
		metric.WithDescription("Total number of fix sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		e.logger.Warn("failed to create session counter", zap.Error(err))
	}

	e.terminalCounter, err = e.meter.Int64Counter(
		"fixd.engine.sessions_terminal_total",
		metric.WithDescription("Total number of sessions reaching a terminal phase"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		e.logger.Warn("failed to create terminal counter", zap.Error(err))
	}

	e.healCounter, err = e.meter.Int64Counter(
		"fixd.engine.heal_attempts_total",
		metric.WithDescription("Total number of self-heal attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		e.logger.Warn("failed to create heal counter", zap.Error(err))
	}

	e.sessionDuration, err = e.meter.Float64Histogram(
		"fixd.engine.session_duration_seconds",
		metric.WithDescription("Wall-clock duration of fix sessions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		e.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// CreateSession validates the request, persists the session in ANALYZING and
// enqueues it.
func (e *service) CreateSession(ctx context.Context, req *FixRequest) (*FixSession, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	if req.ProjectID == "" {
		return nil, errors.New("project_id is required")
	}
	if req.IssueDescription == "" {
		return nil, errors.New("issue_description is required")
	}

	now := time.Now().UTC()
	s := &FixSession{
		ID:               uuid.NewString(),
		ProjectID:        req.ProjectID,
		UserID:           req.UserID,
		IssueDescription: req.IssueDescription,
		TargetFiles:      req.TargetFiles,
		Repo:             e.config.Repo,
		BaseBranch:       e.config.BaseBranch,
		Phase:            PhaseAnalyzing,
		MaxRetries:       e.config.MaxRetries,
		SelfHealing:      e.config.SelfHealing,
		AIReview:         e.config.AIReview,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.MaxRetries != nil && *req.MaxRetries >= 0 && *req.MaxRetries < e.config.MaxRetries {
		s.MaxRetries = *req.MaxRetries
	}
	if req.EnableSelfHealing != nil {
		s.SelfHealing = *req.EnableSelfHealing
	}
	if req.EnableAIReview != nil {
		s.AIReview = *req.EnableAIReview
	}

	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.audit(ctx, s, "session created", AuditInfo, fmt.Sprintf("project %s", s.ProjectID))

	select {
	case e.queue <- s.ID:
	default:
		return nil, ErrQueueFull
	}

	if e.sessionCounter != nil {
		e.sessionCounter.Add(ctx, 1)
	}
	e.logger.Info("fix session created",
		append(logging.ContextFields(ctx),
			zap.String("session_id", s.ID),
			zap.String("project_id", s.ProjectID))...)
	return s, nil
}

func (e *service) GetSession(ctx context.Context, id string) (*FixSession, error) {
	return e.store.GetSession(ctx, id)
}

func (e *service) ListSessions(ctx context.Context) ([]*FixSession, error) {
	return e.store.ListSessions(ctx)
}

// Cancel flags a session for cooperative cancellation. A running session
// stops at its next phase boundary; an idle one is moved to CANCELLED
// immediately. In-flight external calls are never force-aborted.
func (e *service) Cancel(ctx context.Context, id string) error {
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.Phase.Terminal() {
		return fmt.Errorf("cannot cancel session %s: %w", id, ErrTerminalSession)
	}

	e.cancels.Store(id, struct{}{})
	e.logger.Info("cancellation requested", zap.String("session_id", id))

	if _, isRunning := e.running.Load(id); !isRunning {
		e.markCancelled(ctx, s)
	}
	return nil
}

// Regenerate clears attempts on a failed session and requeues it.
func (e *service) Regenerate(ctx context.Context, id string) (*FixSession, error) {
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Phase == PhaseReady || s.Phase == PhaseCancelled {
		return nil, fmt.Errorf("cannot regenerate session %s in phase %s: %w", id, s.Phase, ErrTerminalSession)
	}
	if s.Phase != PhaseFailed {
		return nil, fmt.Errorf("cannot regenerate session %s: still in phase %s", id, s.Phase)
	}
	if s.RegenCount >= e.config.MaxRegenerations {
		return nil, fmt.Errorf("session %s already regenerated %d times: %w", id, s.RegenCount, ErrRegenerationLimit)
	}

	s.RegenCount++
	s.Phase = PhaseAnalyzing
	s.RetryCount = 0
	s.Analysis = nil
	s.Risk = nil
	s.Attempts = nil
	s.Validations = nil
	s.Findings = nil
	s.ValidationPassed = false
	s.ManualIntervention = false
	s.PRNumber = 0
	s.PRURL = ""
	s.Draft = false
	s.ErrorMessage = ""
	s.CompletedAt = nil
	s.UpdatedAt = time.Now().UTC()
	e.cancels.Delete(id)

	if err := e.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}
	e.audit(ctx, s, "session regenerated", AuditInfo,
		fmt.Sprintf("regeneration %d of %d", s.RegenCount, e.config.MaxRegenerations))

	select {
	case e.queue <- s.ID:
	default:
		return nil, ErrQueueFull
	}
	return s, nil
}

// audit appends an ordered entry to the session's trail. A failed audit
// write is logged and never blocks progress.
func (e *service) audit(ctx context.Context, s *FixSession, action string, result AuditResult, details string) {
	entry := AuditEntry{
		Sequence:  len(s.Audit) + 1,
		Timestamp: time.Now().UTC(),
		Phase:     s.Phase,
		Action:    action,
		Result:    result,
		Details:   details,
	}
	s.Audit = append(s.Audit, entry)

	if err := e.store.AppendAudit(ctx, s.ID, entry); err != nil {
		perr := &PersistenceError{Op: "append audit", Err: err}
		e.logger.Warn("audit write failed", zap.String("session_id", s.ID), zap.Error(perr))
	}
}

// persist saves session state. Store failures are logged and never block.
func (e *service) persist(ctx context.Context, s *FixSession) {
	s.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateSession(ctx, s); err != nil {
		perr := &PersistenceError{Op: "update session", Err: err}
		e.logger.Warn("session write failed", zap.String("session_id", s.ID), zap.Error(perr))
	}
}

func metricPhaseAttr(p Phase) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("phase", string(p)))
}

// setPhase performs a guarded transition and persists it.
func (e *service) setPhase(ctx context.Context, s *FixSession, to Phase) error {
	if !canTransition(s.Phase, to) {
		return transitionError(s.Phase, to)
	}
	e.logger.Debug("phase transition",
		zap.String("session_id", s.ID),
		zap.String("from", string(s.Phase)),
		zap.String("to", string(to)))
	s.Phase = to
	e.persist(ctx, s)
	return nil
}
