// Package engine sequences one audit run end to end.
//
// The controller is a single-threaded state machine: it resets the artifact
// store, runs the preflight-eligible steps locally, delegates the remaining
// steps to the agent backend strictly in ascending plan order, persists the
// final report, and hands back the usage summary. No two steps ever execute
// concurrently — step N's artifact is a required input to step N+1.
//
// Abort policy: a failed mandatory step ends the run immediately; failed
// non-mandatory steps are logged as warnings and leave an empty artifact.
// Operator cancellation ends the run in Aborted no matter which step it
// lands on — a dead context is never a tolerable step failure.
// Artifact I/O failures are always fatal regardless of the step's mandatory
// flag, because later steps cannot be trusted to see consistent state once
// the artifact set is suspect. Nothing here retries: an expensive agent
// invocation fails exactly once and is surfaced to the operator.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"auditum/internal/agent"
	"auditum/internal/artifact"
	"auditum/internal/plan"
	"auditum/internal/preflight"
	"auditum/internal/step"
	"auditum/internal/usage"
)

// State is the run controller's lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StatePreflighting State = "preflighting"
	StateDelegating   State = "delegating"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
)

// Config is the resolved, immutable configuration for one run.
//
// It is constructed once before execution begins and never mutated during
// the run. Exactly one Config exists per run.
type Config struct {
	// Bundle names the audit bundle being executed (operator-facing only).
	Bundle string

	// Selection is the resolved agent backend and model.
	Selection agent.Selection

	// Steps is the ordered plan; execution follows ascending Index order.
	Steps []plan.Step

	// RuleDir holds one rule definition per step identifier.
	RuleDir string

	// TemplatePath is the report template referenced by the report step's
	// rule; the engine carries it but does not interpret it.
	TemplatePath string

	// TargetDir is the audited project, used as cwd for preflight commands
	// and as working context for delegated steps.
	TargetDir string

	// Technology selects the preflight table row (go, python, node).
	Technology string

	// ArtifactsDir and ReportPath are exclusively owned by this run.
	ArtifactsDir string
	ReportPath   string

	// DisablePreflight sends every step to the agent, local or not.
	DisablePreflight bool
}

// StepRunner executes one delegated step. *[step.Executor] implements it.
type StepRunner interface {
	Run(ctx context.Context, s plan.Step, sel agent.Selection, prior []artifact.Entry) (step.Result, error)
}

// PreflightExecutor executes one local step. *[preflight.Runner] implements it.
type PreflightExecutor interface {
	Run(ctx context.Context, s plan.Step) (string, error)
}

// Controller drives one run through its states.
type Controller struct {
	cfg       Config
	table     preflight.Table
	pre       PreflightExecutor
	delegate  StepRunner
	artifacts *artifact.Manager
	extractor usage.Extractor
	tracker   usage.Tracker
	logger    *zap.Logger
	state     State
}

// New creates a [Controller] for one run.
func New(cfg Config, table preflight.Table, pre PreflightExecutor, delegate StepRunner, artifacts *artifact.Manager, extractor usage.Extractor, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		table:     table,
		pre:       pre,
		delegate:  delegate,
		artifacts: artifacts,
		extractor: extractor,
		logger:    logger,
		state:     StateIdle,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State { return c.state }

// Run executes the plan.
//
// The returned summary is always valid: on abort it is a partial summary
// covering only the steps that actually ran, and whatever artifacts were
// durably written stay on disk for postmortem.
func (c *Controller) Run(ctx context.Context) (usage.Summary, error) {
	if err := c.artifacts.Reset(); err != nil {
		c.state = StateAborted
		return c.tracker.Summary(), err
	}

	local, delegated := c.table.Partition(c.cfg.Steps, c.cfg.Technology, c.cfg.DisablePreflight)

	c.state = StatePreflighting
	if err := c.runPreflight(ctx, local); err != nil {
		c.state = StateAborted
		return c.tracker.Summary(), err
	}

	c.state = StateDelegating
	if err := c.runDelegated(ctx, delegated); err != nil {
		c.state = StateAborted
		return c.tracker.Summary(), err
	}

	c.state = StateFinalizing
	if err := c.finalize(); err != nil {
		c.state = StateAborted
		return c.tracker.Summary(), err
	}

	c.state = StateCompleted
	return c.tracker.Summary(), nil
}

func (c *Controller) runPreflight(ctx context.Context, steps []plan.Step) error {
	for _, s := range steps {
		start := time.Now()
		out, err := c.pre.Run(ctx, s)
		elapsed := time.Since(start)

		if err != nil {
			// Operator cancellation aborts regardless of the step's
			// mandatory flag; only genuine step failures are tolerable.
			if cerr := ctx.Err(); cerr != nil || s.Mandatory {
				// The aborting step still spent wall time; the partial
				// summary accounts for it.
				c.tracker.Add(usage.Record{
					StepIndex: s.Index,
					StepID:    s.ID,
					Elapsed:   elapsed,
					Preflight: true,
				})
				if cerr != nil {
					return fmt.Errorf("run cancelled during step %s: %w", s.ID, cerr)
				}
				// The Failure's Error() already carries the resolution hint.
				return err
			}
			c.logger.Warn("non-mandatory preflight step failed, continuing",
				zap.String("step", s.ID), zap.Error(err))
			out = ""
		}

		if werr := c.artifacts.Write(s.ID, out); werr != nil {
			return werr
		}
		c.tracker.Add(usage.Record{
			StepIndex: s.Index,
			StepID:    s.ID,
			Elapsed:   elapsed,
			Preflight: true,
		})
	}
	return nil
}

func (c *Controller) runDelegated(ctx context.Context, steps []plan.Step) error {
	for _, s := range steps {
		start := time.Now()
		res, err := c.delegate.Run(ctx, s, c.cfg.Selection, c.artifacts.Ordered())
		elapsed := time.Since(start)

		if err != nil {
			// A failed step is still accounted for: its wall time, and any
			// usage the failed or killed agent already reported in its
			// captured partial output.
			rec := c.extractor.Extract(res.RawOutput)
			rec.StepIndex = s.Index
			rec.StepID = s.ID
			rec.Elapsed = elapsed

			// Operator cancellation aborts regardless of the step's
			// mandatory flag.
			if cerr := ctx.Err(); cerr != nil || s.Mandatory {
				c.tracker.Add(rec)
				if cerr != nil {
					return fmt.Errorf("run cancelled during step %s: %w", s.ID, cerr)
				}
				return err
			}
			c.logger.Warn("non-mandatory step failed, recording empty artifact",
				zap.String("step", s.ID), zap.Error(err))
			if werr := c.artifacts.Write(s.ID, ""); werr != nil {
				return werr
			}
			c.tracker.Add(rec)
			continue
		}

		if werr := c.artifacts.Write(s.ID, res.Findings); werr != nil {
			return werr
		}

		rec := c.extractor.Extract(res.RawOutput)
		rec.StepIndex = s.Index
		rec.StepID = s.ID
		rec.Elapsed = elapsed
		c.tracker.Add(rec)
	}
	return nil
}

// finalize persists the final report: the findings of the plan's last step,
// which by convention is the report-generation step.
func (c *Controller) finalize() error {
	if len(c.cfg.Steps) == 0 {
		return nil
	}
	last := c.cfg.Steps[len(c.cfg.Steps)-1]
	report := c.artifacts.ReadAll()[last.ID]
	if err := c.artifacts.WriteReport(report); err != nil {
		return err
	}
	c.logger.Info("report persisted", zap.String("path", c.artifacts.ReportPath()))
	return nil
}
