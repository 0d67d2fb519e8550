package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/fixd/internal/config"
	"github.com/fyrsmithlabs/fixd/internal/engine"
	"github.com/fyrsmithlabs/fixd/internal/logging"
)

var (
	fixProject string
	fixUser    string
	fixFiles   []string
	fixJSON    bool
)

var fixCmd = &cobra.Command{
	Use:   "fix <issue description>",
	Short: "Run a single fix session in the foreground",
	Long: `Run one fix session synchronously and print the outcome.

Examples:
  # Fix a described issue
  fixd fix --project billing "null pointer when invoice has no line items"

  # Scope generation to known files
  fixd fix --project api --file src/auth/session.ts "sessions never expire"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFix,
}

func init() {
	fixCmd.Flags().StringVar(&fixProject, "project", "", "project identifier (required)")
	fixCmd.Flags().StringVar(&fixUser, "user", "", "requesting user identifier")
	fixCmd.Flags().StringSliceVar(&fixFiles, "file", nil, "candidate file to modify (repeatable)")
	fixCmd.Flags().BoolVar(&fixJSON, "json", false, "print the result as JSON")
	_ = fixCmd.MarkFlagRequired("project")
}

func runFix(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// One-shot runs keep session state in memory; nothing outlives the
	// process except the pull request.
	cfg.Store = config.StoreConfig{Driver: "memory"}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry, err := buildRegistry(ctx, cfg, logger.Underlying())
	if err != nil {
		return err
	}
	eng := registry.Engine()

	session, err := eng.CreateSession(ctx, &engine.FixRequest{
		ProjectID:        fixProject,
		UserID:           fixUser,
		IssueDescription: strings.Join(args, " "),
		TargetFiles:      fixFiles,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	result, err := eng.RunSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("running session: %w", err)
	}

	if fixJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	} else {
		printResult(cmd, result)
	}

	if !result.Success {
		return fmt.Errorf("session ended in phase %s: %s", result.Phase, result.Message)
	}
	return nil
}

func printResult(cmd *cobra.Command, result *engine.Result) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Session:    %s\n", result.SessionID)
	fmt.Fprintf(out, "Phase:      %s\n", result.Phase)
	if result.ValidationPassed {
		fmt.Fprintf(out, "Validation: passed (%d self-heal retries)\n", result.RetryCount)
	} else {
		fmt.Fprintf(out, "Validation: failed (%d self-heal retries)\n", result.RetryCount)
	}
	if result.PRNumber > 0 {
		fmt.Fprintf(out, "PR:         #%d %s\n", result.PRNumber, result.PRURL)
	}
	for _, f := range result.ReviewFindings {
		fmt.Fprintf(out, "Finding:    [%s] %s:%d %s\n", f.Severity, f.FilePath, f.Line, f.Issue)
	}
	fmt.Fprintf(out, "Message:    %s\n", result.Message)

	fmt.Fprintln(out, "\nAudit trail:")
	for _, e := range result.AuditTrail {
		fmt.Fprintf(out, "  %3d. [%s] %-11s %s\n", e.Sequence, e.Timestamp.Format("15:04:05"), e.Phase, e.Action)
	}
}
