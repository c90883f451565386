package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditum/internal/agent"
	"auditum/internal/artifact"
	"auditum/internal/engine"
	"auditum/internal/plan"
	"auditum/internal/preflight"
	"auditum/internal/report"
	"auditum/internal/step"
	"auditum/internal/usage"
)

func newRunCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run [target-dir]",
		Short: "Execute the audit plan against a target project",
		Long: `Execute the audit plan against a target project.

Preflight-eligible steps run locally; the rest are delegated to the
resolved agent backend, one blocking subprocess per step. A failed
mandatory step aborts the run. Artifacts land in the artifact directory
and the final report is written to the configured report path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return app.runAudit(cmd, target)
		},
	}
}

func (app *App) runAudit(cmd *cobra.Command, target string) error {
	cfg := app.Config
	logger := app.Logger
	printer := report.NewPrinter(app.Out)

	pl, err := plan.LoadFile(cfg.PlanPath)
	if err != nil {
		return err
	}

	// Prompting only makes sense when no model was forced.
	var prompter agent.ModelPrompter
	if cfg.Model == "" {
		prompter = app.Prompter
	}
	resolver := agent.NewResolver(app.Prober, prompter, app.preconfiguredKinds(), logger)
	sel, err := resolver.Resolve(cfg.Agent, cfg.Model)
	if err != nil {
		return err
	}

	table, err := preflight.LoadTable(cfg.PreflightTablePath)
	if err != nil {
		return err
	}

	artifacts := artifact.NewManager(cfg.ArtifactsDir, cfg.ReportPath)
	pre := preflight.NewRunner(table, cfg.Technology, target, app.PreflightExec, logger)
	executor := step.NewExecutor(app.Invoker, cfg.RuleDir, target, logger)

	runCfg := engine.Config{
		Bundle:           cfg.Bundle,
		Selection:        sel,
		Steps:            pl.Steps,
		RuleDir:          cfg.RuleDir,
		TemplatePath:     cfg.TemplatePath,
		TargetDir:        target,
		Technology:       cfg.Technology,
		ArtifactsDir:     cfg.ArtifactsDir,
		ReportPath:       cfg.ReportPath,
		DisablePreflight: cfg.DisablePreflight,
	}
	controller := engine.New(runCfg, table, pre, executor, artifacts, usage.ForKind(sel.Kind), logger)

	logger.Info("starting run",
		zap.String("bundle", cfg.Bundle),
		zap.String("agent", string(sel.Kind)),
		zap.String("model", sel.Model),
		zap.Int("steps", len(pl.Steps)))

	// An operator interrupt kills the in-flight subprocess; prior steps'
	// artifacts stay on disk.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, runErr := controller.Run(ctx)
	printer.PrintSummary(summary, controller.State() == engine.StateAborted)

	if runErr != nil {
		logger.Error("run aborted", zap.Error(runErr))
		cmd.PrintErrln("Error:", runErr)
		return NewExitError(1)
	}
	return nil
}
