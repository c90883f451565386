// Package cli wires the auditum commands.
//
// The [App] carries configuration and injected collaborators (prober,
// prompter, invoker, preflight executor) so commands stay testable without
// spawning real agent processes. [Execute] builds the production app;
// tests construct an App with mocks and call [NewRootCommand] directly.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditum/internal/agent"
	"auditum/internal/config"
	"auditum/internal/logging"
	"auditum/internal/preflight"
	"auditum/internal/step"
)

// App holds the collaborators shared by all commands.
type App struct {
	// Config is the merged configuration, populated before any command runs.
	Config config.Config

	// Logger is the process logger, rebuilt after config load so the
	// verbose flag takes effect.
	Logger *zap.Logger

	// Out receives operator-facing output (summaries, previews).
	Out io.Writer

	// Prober detects installed agent binaries.
	Prober agent.Prober

	// Prompter asks for a model when none is configured. Nil disables
	// prompting and resolves straight to the backend default.
	Prompter agent.ModelPrompter

	// Invoker spawns agent backend processes for delegated steps.
	Invoker step.Invoker

	// PreflightExec runs local preflight commands.
	PreflightExec preflight.CommandExecutor

	loader *config.Loader
}

// NewApp creates an App with production collaborators.
func NewApp() *App {
	logger := logging.New(false)
	return &App{
		Logger:        logger,
		Out:           os.Stdout,
		Prober:        agent.ExecProber{},
		Prompter:      agent.SurveyPrompter{},
		Invoker:       step.NewExecInvoker(logger),
		PreflightExec: preflight.ExecCommandExecutor{},
		loader:        config.NewLoader(),
	}
}

// NewRootCommand builds the root command and its subcommands.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "auditum",
		Short:         "Run agent-driven audit pipelines against a project",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.String("agent", "", "agent backend to use (claude, gemini, codex); default autodetect")
	flags.String("model", "", "model identifier, passed to the backend verbatim")
	flags.String("technology", "", "target project technology (go, python, node)")
	flags.String("plan", "", "path to the audit plan document")
	flags.String("rules", "", "directory holding one rule file per step")
	flags.String("artifacts", "", "artifact directory (cleared every run)")
	flags.String("output", "", "final report path (overwritten every run)")
	flags.String("bundle", "", "audit bundle name")
	flags.String("preflight-table", "", "override the built-in preflight table (YAML)")
	flags.Bool("no-preflight", false, "delegate every step to the agent, even deterministic ones")
	flags.BoolP("verbose", "v", false, "enable debug logging")

	if app.loader != nil {
		v := app.loader.Viper()
		v.BindPFlag("agent", flags.Lookup("agent"))
		v.BindPFlag("model", flags.Lookup("model"))
		v.BindPFlag("technology", flags.Lookup("technology"))
		v.BindPFlag("plan_path", flags.Lookup("plan"))
		v.BindPFlag("rule_dir", flags.Lookup("rules"))
		v.BindPFlag("artifacts_dir", flags.Lookup("artifacts"))
		v.BindPFlag("report_path", flags.Lookup("output"))
		v.BindPFlag("bundle", flags.Lookup("bundle"))
		v.BindPFlag("preflight_table_path", flags.Lookup("preflight-table"))
		v.BindPFlag("disable_preflight", flags.Lookup("no-preflight"))
		v.BindPFlag("verbose", flags.Lookup("verbose"))
	}

	root.AddCommand(newRunCommand(app))
	root.AddCommand(newPlanCommand(app))
	root.AddCommand(newAgentsCommand(app))
	return root
}

// loadConfig merges defaults, config file, environment, and flags, then
// rebuilds the logger so --verbose applies to everything downstream.
func (app *App) loadConfig() error {
	if app.loader == nil {
		return nil // tests populate Config directly
	}
	cfg, err := app.loader.Load()
	if err != nil {
		return err
	}
	app.Config = cfg
	app.Logger = logging.New(cfg.Verbose)
	return nil
}

// preconfiguredKinds converts the configured backend names to agent kinds,
// dropping anything unrecognized.
func (app *App) preconfiguredKinds() []agent.Kind {
	var kinds []agent.Kind
	for _, name := range app.Config.PreconfiguredAgents {
		k := agent.Kind(name)
		if _, err := agent.Describe(k); err == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	app := NewApp()
	root := NewRootCommand(app)

	if err := root.Execute(); err != nil {
		if code, ok := IsExitError(err); ok {
			return code
		}
		root.PrintErrln("Error:", err)
		return 1
	}
	return 0
}
