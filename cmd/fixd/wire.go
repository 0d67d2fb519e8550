package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/config"
	"github.com/fyrsmithlabs/fixd/internal/diff"
	"github.com/fyrsmithlabs/fixd/internal/engine"
	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/services"
	"github.com/fyrsmithlabs/fixd/internal/store"
	"github.com/fyrsmithlabs/fixd/internal/validation"
	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

// buildRegistry wires every collaborator the engine needs and the engine
// itself, honoring the configured store driver.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.Registry, error) {
	st, err := store.New(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	orc, err := oracle.NewClient(oracle.ClientConfig{
		APIKey:  cfg.Oracle.APIKey,
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Engine.OracleTimeout.Duration(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing oracle client: %w", err)
	}

	runner, err := buildRunner(cfg.Validation, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing validation runner: %w", err)
	}

	publisher, err := vcs.NewGitHub(ctx, vcs.GitHubConfig{
		Token:   cfg.VCS.Token,
		BaseURL: cfg.VCS.BaseURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing publisher: %w", err)
	}

	eng, err := engine.NewService(engineConfig(cfg), st, orc, runner, publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	return services.NewRegistry(services.Options{
		Engine:    eng,
		Oracle:    orc,
		Runner:    runner,
		Publisher: publisher,
		Store:     st,
	}), nil
}

func engineConfig(cfg *config.Config) *engine.Config {
	return &engine.Config{
		MaxRetries:       cfg.Engine.MaxRetries,
		SelfHealing:      cfg.Engine.SelfHealing,
		AIReview:         cfg.Engine.AIReview,
		MaxRegenerations: cfg.Engine.MaxRegenerations,
		Workers:          cfg.Engine.Workers,
		QueueSize:        cfg.Engine.QueueSize,
		DraftOnExhausted: cfg.Engine.DraftOnExhausted,
		ContextLines:     cfg.Diff.ContextLines,
		DiffLimits: diff.Limits{
			MaxHunks:      cfg.Diff.MaxHunks,
			MaxBytes:      cfg.Diff.MaxBytes,
			MaxInputLines: cfg.Diff.MaxInputLines,
		},
		Repo: vcs.Repo{
			Owner: cfg.VCS.Owner,
			Name:  cfg.VCS.Repo,
		},
		BaseBranch: cfg.VCS.BaseBranch,
	}
}

func buildRunner(cfg config.ValidationConfig, logger *zap.Logger) (validation.Runner, error) {
	switch cfg.Mode {
	case "simulated":
		return &validation.Simulated{IncludeE2E: len(cfg.E2E) > 0}, nil
	case "exec":
		return validation.NewExec(validation.ExecConfig{
			Typecheck:   argvCommand(cfg.Typecheck),
			Lint:        argvCommand(cfg.Lint),
			UnitTest:    argvCommand(cfg.UnitTest),
			E2E:         argvCommand(cfg.E2E),
			WorkDir:     cfg.WorkDir,
			StepTimeout: cfg.StepTimeout.Duration(),
			OutputCap:   cfg.OutputCap,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown validation mode %q", cfg.Mode)
	}
}

func argvCommand(argv []string) validation.Command {
	if len(argv) == 0 {
		return validation.Command{}
	}
	return validation.Command{Name: argv[0], Args: argv[1:]}
}
