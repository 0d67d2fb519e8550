package validation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/logging"
)

const (
	// lintScopeMax is the largest changed-file list the lint step is scoped
	// to. Beyond it lint runs against the whole project, which is cheaper
	// than passing hundreds of paths on the command line.
	lintScopeMax = 24

	defaultStepTimeout = 5 * time.Minute
	defaultOutputCap   = 16 * 1024
)

// Command is an external toolchain invocation.
type Command struct {
	Name string   `koanf:"name"`
	Args []string `koanf:"args"`
}

func (c Command) isSet() bool { return c.Name != "" }

// ExecConfig configures the exec-backed runner.
type ExecConfig struct {
	Typecheck Command `koanf:"typecheck"`
	Lint      Command `koanf:"lint"`
	UnitTest  Command `koanf:"unit_test"`

	// E2E is optional; a zero Command skips the step.
	E2E Command `koanf:"e2e"`

	// WorkDir is the directory commands run in.
	WorkDir string `koanf:"work_dir"`

	// StepTimeout is the per-step wall-clock budget. On overrun the process
	// is killed and the step reports failure.
	StepTimeout time.Duration `koanf:"step_timeout"`

	// OutputCap bounds captured output per step.
	OutputCap int `koanf:"output_cap"`
}

// Exec delegates each verification step to an external toolchain process.
type Exec struct {
	cfg    ExecConfig
	logger *zap.Logger
}

// NewExec creates an exec-backed runner.
func NewExec(cfg ExecConfig, logger *zap.Logger) (*Exec, error) {
	if !cfg.Typecheck.isSet() || !cfg.Lint.isSet() || !cfg.UnitTest.isSet() {
		return nil, errors.New("typecheck, lint and unit_test commands are required")
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.OutputCap <= 0 {
		cfg.OutputCap = defaultOutputCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{cfg: cfg, logger: logger}, nil
}

// Run implements Runner. All configured steps run even when earlier ones
// fail.
func (e *Exec) Run(ctx context.Context, changedFiles []string) ([]StepResult, error) {
	steps := []struct {
		step Step
		cmd  Command
	}{
		{StepTypecheck, e.cfg.Typecheck},
		{StepLint, e.lintCommand(changedFiles)},
		{StepUnitTest, e.cfg.UnitTest},
	}
	if e.cfg.E2E.isSet() {
		steps = append(steps, struct {
			step Step
			cmd  Command
		}{StepE2E, e.cfg.E2E})
	}

	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		results = append(results, e.runStep(ctx, s.step, s.cmd))
	}
	return results, nil
}

// lintCommand scopes lint to the changed-file list when its size is between
// 1 and lintScopeMax inclusive, otherwise lints the whole project.
func (e *Exec) lintCommand(changedFiles []string) Command {
	cmd := e.cfg.Lint
	if n := len(changedFiles); n >= 1 && n <= lintScopeMax {
		args := make([]string, 0, len(cmd.Args)+n)
		args = append(args, cmd.Args...)
		args = append(args, changedFiles...)
		cmd = Command{Name: cmd.Name, Args: args}
	}
	return cmd
}

func (e *Exec) runStep(ctx context.Context, step Step, command Command) StepResult {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(stepCtx, command.Name, command.Args...)
	cmd.Dir = e.cfg.WorkDir

	out, err := cmd.CombinedOutput()
	duration := time.Since(start)

	output := capOutput(string(out), e.cfg.OutputCap)
	if stepCtx.Err() == context.DeadlineExceeded {
		output = capOutput(fmt.Sprintf("%s\n[step timed out after %s, process killed]", output, e.cfg.StepTimeout), e.cfg.OutputCap)
	}

	passed := err == nil
	e.logger.Info("validation step finished",
		append(logging.ContextFields(ctx),
			zap.String("step", string(step)),
			zap.Bool("passed", passed),
			zap.Duration("duration", duration),
		)...,
	)

	return StepResult{
		Step:     step,
		Passed:   passed,
		Output:   output,
		Duration: duration,
	}
}

func capOutput(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[output truncated]"
}
