package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditum/internal/agent"
	"auditum/internal/artifact"
	"auditum/internal/plan"
	"auditum/internal/preflight"
	"auditum/internal/step"
	"auditum/internal/usage"
)

// fakePreflight runs no real commands; failOn simulates a nonzero exit and
// cancelOn simulates an operator interrupt landing mid-command.
type fakePreflight struct {
	ran      []string
	failOn   string
	cancelOn string
	cancel   context.CancelFunc
}

func (f *fakePreflight) Run(ctx context.Context, s plan.Step) (string, error) {
	f.ran = append(f.ran, s.ID)
	if s.ID == f.cancelOn {
		f.cancel()
		return "", ctx.Err()
	}
	if s.ID == f.failOn {
		return "", &preflight.Failure{StepID: s.ID, Hint: "install the toolchain", Err: errors.New("exit status 1")}
	}
	return "preflight ok: " + s.ID, nil
}

// fakeDelegate returns canned findings; failOn simulates an invocation
// failure (with the partial output a killed process leaves behind) and
// cancelOn simulates an operator interrupt killing the subprocess.
type fakeDelegate struct {
	ran      []string
	prior    map[string][]artifact.Entry
	failOn   string
	cancelOn string
	cancel   context.CancelFunc
}

func (f *fakeDelegate) Run(ctx context.Context, s plan.Step, _ agent.Selection, prior []artifact.Entry) (step.Result, error) {
	f.ran = append(f.ran, s.ID)
	if f.prior == nil {
		f.prior = make(map[string][]artifact.Entry)
	}
	f.prior[s.ID] = prior
	if s.ID == f.cancelOn {
		f.cancel()
		return step.Result{}, &step.Failure{StepID: s.ID, Reason: "agent process failed", Err: errors.New("signal: killed")}
	}
	if s.ID == f.failOn {
		partial := step.Result{RawOutput: "Input tokens: 7\nOutput tokens: 3\n"}
		return partial, &step.Failure{StepID: s.ID, Reason: "agent process failed", Err: errors.New("exit status 2")}
	}
	return step.Result{RawOutput: "Input tokens: 100\nOutput tokens: 40\n", Findings: "findings of " + s.ID}, nil
}

func newController(t *testing.T, steps []plan.Step, pre *fakePreflight, del *fakeDelegate) (*Controller, *artifact.Manager) {
	t.Helper()
	base := t.TempDir()
	m := artifact.NewManager(filepath.Join(base, "reports", ".artifacts"), filepath.Join(base, "reports", "audit-report.md"))
	cfg := Config{
		Bundle:       "full-hardening",
		Selection:    agent.Selection{Kind: agent.KindGemini, Model: "gemini-2.5-pro"},
		Steps:        steps,
		Technology:   "go",
		ArtifactsDir: m.Dir(),
		ReportPath:   m.ReportPath(),
	}
	c := New(cfg, preflight.DefaultTable(), pre, del, m, usage.GeminiExtractor{}, nil)
	return c, m
}

func TestRun_HappyPath(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "tool_installer", Mandatory: true},
		{Index: 2, ID: "dependency_audit"},
		{Index: 3, ID: "report_generator", Mandatory: true},
	}
	pre := &fakePreflight{}
	del := &fakeDelegate{}
	c, m := newController(t, steps, pre, del)

	summary, err := c.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, []string{"tool_installer"}, pre.ran)
	assert.Equal(t, []string{"dependency_audit", "report_generator"}, del.ran)

	// Usage extracted from delegated output, local steps token-free.
	assert.Equal(t, int64(200), summary.TotalInputTokens)
	assert.Equal(t, int64(80), summary.TotalOutputTokens)
	assert.Nil(t, summary.TotalCostUSD)
	assert.Len(t, summary.Records, 3)

	// Final report is the last step's findings.
	data, rerr := os.ReadFile(m.ReportPath())
	require.NoError(t, rerr)
	assert.Equal(t, "findings of report_generator", string(data))
}

func TestRun_PriorArtifactsFlowForward(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "tool_installer"},
		{Index: 2, ID: "dependency_audit"},
		{Index: 3, ID: "report_generator"},
	}
	del := &fakeDelegate{}
	c, _ := newController(t, steps, &fakePreflight{}, del)

	_, err := c.Run(context.Background())

	require.NoError(t, err)
	// dependency_audit sees the preflight artifact; report_generator sees both.
	require.Len(t, del.prior["dependency_audit"], 1)
	assert.Equal(t, "tool_installer", del.prior["dependency_audit"][0].ID)
	require.Len(t, del.prior["report_generator"], 2)
	assert.Equal(t, "dependency_audit", del.prior["report_generator"][1].ID)
}

func TestRun_MandatoryPreflightFailureAborts(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "tool_installer", Mandatory: true},
		{Index: 2, ID: "report_generator"},
	}
	pre := &fakePreflight{failOn: "tool_installer"}
	del := &fakeDelegate{}
	c, m := newController(t, steps, pre, del)

	summary, err := c.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, preflight.ErrPreflight)
	assert.Contains(t, err.Error(), "install the toolchain")
	assert.Equal(t, StateAborted, c.State())

	// No later step ran and no later artifact exists.
	assert.Empty(t, del.ran)
	_, serr := os.Stat(m.Path("report_generator"))
	assert.True(t, os.IsNotExist(serr))

	// The aborting step still shows up in the partial summary with its
	// wall time.
	require.Len(t, summary.Records, 1)
	assert.Equal(t, "tool_installer", summary.Records[0].StepID)
	assert.True(t, summary.Records[0].Preflight)
}

func TestRun_NonMandatoryPreflightFailureContinues(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "coverage_generator"},
		{Index: 2, ID: "report_generator", Mandatory: true},
	}
	pre := &fakePreflight{failOn: "coverage_generator"}
	del := &fakeDelegate{}
	c, m := newController(t, steps, pre, del)

	_, err := c.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())

	// Failed step leaves an empty artifact; the mandatory step populated its own.
	data, rerr := os.ReadFile(m.Path("coverage_generator"))
	require.NoError(t, rerr)
	assert.Empty(t, string(data))
	data, rerr = os.ReadFile(m.Path("report_generator"))
	require.NoError(t, rerr)
	assert.Equal(t, "findings of report_generator", string(data))
}

func TestRun_MandatoryDelegatedFailureAborts(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "dependency_audit", Mandatory: true},
		{Index: 2, ID: "report_generator"},
	}
	del := &fakeDelegate{failOn: "dependency_audit"}
	c, m := newController(t, steps, &fakePreflight{}, del)

	summary, err := c.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, step.ErrInvocation)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, []string{"dependency_audit"}, del.ran)

	_, serr := os.Stat(m.Path("report_generator"))
	assert.True(t, os.IsNotExist(serr))
	_, serr = os.Stat(m.ReportPath())
	assert.True(t, os.IsNotExist(serr), "no report on abort")

	// The failed step's partial output was already billed; the partial
	// summary keeps those tokens.
	require.Len(t, summary.Records, 1)
	assert.Equal(t, int64(7), summary.Records[0].InputTokens)
	assert.Equal(t, int64(3), summary.Records[0].OutputTokens)
}

func TestRun_CancellationDuringNonMandatoryDelegatedStepAborts(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "secrets_scan"},
		{Index: 2, ID: "report_generator", Mandatory: true},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	del := &fakeDelegate{cancelOn: "secrets_scan", cancel: cancel}
	c, m := newController(t, steps, &fakePreflight{}, del)

	summary, err := c.Run(ctx)

	// Cancellation is never a tolerable failure, mandatory flag or not.
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, c.State())

	// No later step was attempted and no report was written.
	assert.Equal(t, []string{"secrets_scan"}, del.ran)
	_, serr := os.Stat(m.ReportPath())
	assert.True(t, os.IsNotExist(serr))

	// The interrupted step's wall time survives into the partial summary.
	require.Len(t, summary.Records, 1)
	assert.Equal(t, "secrets_scan", summary.Records[0].StepID)
}

func TestRun_CancellationDuringPreflightStepAborts(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "coverage_generator"},
		{Index: 2, ID: "report_generator", Mandatory: true},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pre := &fakePreflight{cancelOn: "coverage_generator", cancel: cancel}
	del := &fakeDelegate{}
	c, _ := newController(t, steps, pre, del)

	_, err := c.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, c.State())
	assert.Empty(t, del.ran)
}

func TestRun_NonMandatoryDelegatedFailureRecordsEmptyArtifact(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "secrets_scan"},
		{Index: 2, ID: "report_generator", Mandatory: true},
	}
	del := &fakeDelegate{failOn: "secrets_scan"}
	c, m := newController(t, steps, &fakePreflight{}, del)

	summary, err := c.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())

	data, rerr := os.ReadFile(m.Path("secrets_scan"))
	require.NoError(t, rerr)
	assert.Empty(t, string(data))

	// The failed step still contributes wall time and the tokens its
	// partial output had already billed.
	require.Len(t, summary.Records, 2)
	assert.Equal(t, "secrets_scan", summary.Records[0].StepID)
	assert.Equal(t, int64(7), summary.Records[0].InputTokens)
}

func TestRun_DisablePreflightDelegatesEverything(t *testing.T) {
	steps := []plan.Step{
		{Index: 1, ID: "tool_installer", Mandatory: true},
		{Index: 2, ID: "report_generator"},
	}
	pre := &fakePreflight{}
	del := &fakeDelegate{}
	c, _ := newController(t, steps, pre, del)
	c.cfg.DisablePreflight = true

	_, err := c.Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, pre.ran)
	assert.Equal(t, []string{"tool_installer", "report_generator"}, del.ran)
}

func TestRun_SecondRunClearsFirstRunArtifacts(t *testing.T) {
	first := []plan.Step{{Index: 1, ID: "dependency_audit"}}
	c1, m := newController(t, first, &fakePreflight{}, &fakeDelegate{})
	_, err := c1.Run(context.Background())
	require.NoError(t, err)

	// Second run over the same directories with a different plan.
	second := []plan.Step{{Index: 1, ID: "secrets_scan"}}
	cfg := c1.cfg
	cfg.Steps = second
	c2 := New(cfg, preflight.DefaultTable(), &fakePreflight{}, &fakeDelegate{}, m, usage.GeminiExtractor{}, nil)
	_, err = c2.Run(context.Background())
	require.NoError(t, err)

	entries, rerr := os.ReadDir(m.Dir())
	require.NoError(t, rerr)
	require.Len(t, entries, 1)
	assert.Equal(t, "secrets_scan.txt", entries[0].Name())
}

func TestRun_ArtifactResetFailureAbortsBeforeAnyStep(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	m := artifact.NewManager(filepath.Join(blocker, "artifacts"), "")

	pre := &fakePreflight{}
	del := &fakeDelegate{}
	cfg := Config{Steps: []plan.Step{{Index: 1, ID: "tool_installer"}}, Technology: "go"}
	c := New(cfg, preflight.DefaultTable(), pre, del, m, usage.NullExtractor{}, nil)

	_, err := c.Run(context.Background())

	assert.ErrorIs(t, err, artifact.ErrArtifactIO)
	assert.Equal(t, StateAborted, c.State())
	assert.Empty(t, pre.ran)
	assert.Empty(t, del.ran)
}

func TestRun_StateProgression(t *testing.T) {
	c, _ := newController(t, []plan.Step{{Index: 1, ID: "report_generator"}}, &fakePreflight{}, &fakeDelegate{})

	assert.Equal(t, StateIdle, c.State())
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())
}
