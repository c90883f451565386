package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"auditum/internal/plan"
)

// ErrPreflight marks a failed local preflight command. Whether it aborts
// the run depends on the step's mandatory flag; the engine decides.
var ErrPreflight = errors.New("preflight step failed")

// Failure carries the diagnostic context of a failed preflight step:
// the command that ran, its combined output, and the table's resolution
// hint for the operator.
type Failure struct {
	StepID string
	Argv   []string
	Output string
	Hint   string
	Err    error
}

// Error formats the failure with its resolution hint.
func (f *Failure) Error() string {
	return fmt.Sprintf("%v: step %s (%s): %v\nresolution: %s",
		ErrPreflight, f.StepID, strings.Join(f.Argv, " "), f.Err, f.Hint)
}

// Unwrap lets errors.Is match [ErrPreflight].
func (f *Failure) Unwrap() error { return ErrPreflight }

// CommandExecutor runs one local command in a directory and returns its
// combined output. Injected so tests never spawn real processes.
type CommandExecutor interface {
	Run(ctx context.Context, dir string, argv []string) (string, error)
}

// ExecCommandExecutor implements [CommandExecutor] with os/exec.
type ExecCommandExecutor struct{}

// Run invokes the command with the given working directory, capturing
// stdout and stderr together. Context cancellation kills the process.
func (ExecCommandExecutor) Run(ctx context.Context, dir string, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Runner executes preflight-eligible steps as local deterministic commands.
type Runner struct {
	table      Table
	technology string
	targetDir  string
	executor   CommandExecutor
	logger     *zap.Logger
}

// NewRunner creates a [Runner] for one technology and target project.
func NewRunner(table Table, technology, targetDir string, executor CommandExecutor, logger *zap.Logger) *Runner {
	if executor == nil {
		executor = ExecCommandExecutor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		table:      table,
		technology: technology,
		targetDir:  targetDir,
		executor:   executor,
		logger:     logger,
	}
}

// Run executes one preflight step locally and returns its combined output.
//
// A nonzero exit produces a *[Failure] wrapping [ErrPreflight], with the
// table's resolution hint attached; the caller applies mandatory-abort
// policy. Asking to run a step that is not in the table for this
// technology is a programming error and is also reported via [Failure].
func (r *Runner) Run(ctx context.Context, step plan.Step) (string, error) {
	cmd, ok := r.table.Commands(r.technology)[step.ID]
	if !ok {
		return "", &Failure{
			StepID: step.ID,
			Hint:   fmt.Sprintf("step %s is not automatable for technology %s", step.ID, r.technology),
			Err:    errors.New("no preflight command"),
		}
	}

	r.logger.Info("preflight step",
		zap.String("step", step.ID),
		zap.Strings("argv", cmd.Argv),
		zap.Bool("mandatory", step.Mandatory))

	out, err := r.executor.Run(ctx, r.targetDir, cmd.Argv)
	if err != nil {
		return out, &Failure{
			StepID: step.ID,
			Argv:   cmd.Argv,
			Output: out,
			Hint:   cmd.Hint,
			Err:    err,
		}
	}
	return out, nil
}
