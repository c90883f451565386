// Package step executes agent-delegated audit steps.
//
// For each delegated step the executor reads the step's rule definition,
// composes an invocation prompt from the rule, the accumulated prior
// artifacts, and the target project context, then runs the resolved agent
// backend as a blocking subprocess and captures its full output.
//
// Failures are surfaced exactly once: there is no automatic retry, because
// agent invocations are expensive and a silent retry would double-bill.
package step

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"auditum/internal/agent"
	"auditum/internal/artifact"
	"auditum/internal/claude"
	"auditum/internal/plan"
)

// ErrInvocation marks a failed agent invocation: missing rule file,
// nonzero exit, or empty output. Whether it aborts the run depends on the
// step's mandatory flag.
var ErrInvocation = errors.New("step invocation failed")

// Failure carries the diagnostic context of a failed step invocation.
type Failure struct {
	StepID string
	Reason string
	Err    error
}

// Error formats the failure for the operator.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%v: step %s: %s: %v", ErrInvocation, f.StepID, f.Reason, f.Err)
	}
	return fmt.Sprintf("%v: step %s: %s", ErrInvocation, f.StepID, f.Reason)
}

// Unwrap lets errors.Is match [ErrInvocation].
func (f *Failure) Unwrap() error { return ErrInvocation }

// Result is the outcome of one successful delegated step.
type Result struct {
	// RawOutput is the backend's complete standard output, kept verbatim
	// for usage extraction.
	RawOutput string

	// Findings is the step's textual findings, persisted as the artifact.
	// For stream-json backends this is the final result text rather than
	// the raw event stream.
	Findings string
}

// Executor runs agent-delegated steps.
type Executor struct {
	invoker   Invoker
	ruleDir   string
	targetDir string
	logger    *zap.Logger
}

// NewExecutor creates an [Executor].
func NewExecutor(invoker Invoker, ruleDir, targetDir string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		invoker:   invoker,
		ruleDir:   ruleDir,
		targetDir: targetDir,
		logger:    logger,
	}
}

// RulePath returns the rule definition path for a step identifier.
func (e *Executor) RulePath(stepID string) string {
	return filepath.Join(e.ruleDir, stepID+".md")
}

// Run executes one delegated step and returns its result.
//
// A missing rule file, a nonzero backend exit, and empty backend output all
// produce a *[Failure] wrapping [ErrInvocation]; the caller applies the
// mandatory-abort policy. The invocation blocks until the backend process
// exits — step N+1 may consume this step's artifact, so nothing overlaps.
func (e *Executor) Run(ctx context.Context, s plan.Step, sel agent.Selection, prior []artifact.Entry) (Result, error) {
	rulePath := e.RulePath(s.ID)
	rule, err := os.ReadFile(rulePath)
	if err != nil {
		return Result{}, &Failure{StepID: s.ID, Reason: fmt.Sprintf("rule file %s unreadable", rulePath), Err: err}
	}

	prompt := buildPrompt(s, string(rule), prior)

	e.logger.Info("delegating step",
		zap.Int("index", s.Index),
		zap.String("step", s.ID),
		zap.String("agent", string(sel.Kind)),
		zap.String("model", sel.Model))

	raw, err := e.invoker.Invoke(ctx, sel, prompt, e.targetDir)
	if err != nil {
		// Partial output is kept: a killed agent may already have billed
		// tokens, and the caller accounts for them.
		return Result{RawOutput: raw}, &Failure{StepID: s.ID, Reason: "agent process failed", Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return Result{}, &Failure{StepID: s.ID, Reason: "agent produced no output"}
	}

	return Result{RawOutput: raw, Findings: extractFindings(sel.Kind, raw)}, nil
}

// buildPrompt composes the invocation prompt: the rule content, then the
// prior artifacts in plan order, then the target context.
func buildPrompt(s plan.Step, rule string, prior []artifact.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit step %d: %s\n", s.Index, s.ID)
	if s.Annotation != "" {
		fmt.Fprintf(&b, "Focus: %s\n", s.Annotation)
	}
	b.WriteString("\n# Rule\n\n")
	b.WriteString(strings.TrimSpace(rule))
	b.WriteString("\n")

	if len(prior) > 0 {
		b.WriteString("\n# Findings from earlier steps\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "\n## %s\n\n%s\n", p.ID, strings.TrimSpace(p.Content))
		}
	}

	b.WriteString("\nWork against the project in the current directory. Print your findings as plain text.\n")
	return b.String()
}

// extractFindings pulls the human-readable findings out of the backend
// output. Claude's stream-json output holds the findings in the final
// result event; other backends print them directly.
func extractFindings(kind agent.Kind, raw string) string {
	if kind != agent.KindClaude {
		return raw
	}

	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		event, err := claude.ParseSingle(line)
		if err != nil || !event.SessionComplete {
			continue
		}
		if event.ResultText != "" {
			return event.ResultText
		}
		break
	}
	// No result event found: keep the raw stream rather than losing output.
	return raw
}
