package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"auditum/internal/config"
	"auditum/internal/step"
)

// fixedProber reports a fixed set of installed binaries.
type fixedProber struct {
	binaries map[string]bool
}

func (f fixedProber) Available(binary string) bool {
	return f.binaries[binary]
}

// recordingExecutor is a preflight command executor that records argv and
// optionally fails for one command.
type recordingExecutor struct {
	calls  [][]string
	failOn string
}

func (r *recordingExecutor) Run(_ context.Context, _ string, argv []string) (string, error) {
	r.calls = append(r.calls, argv)
	if r.failOn != "" && argv[0] == r.failOn {
		return "simulated failure output", errors.New("exit status 1")
	}
	return "ok", nil
}

// testEnv is a fully mocked CLI environment over temp directories.
type testEnv struct {
	app      *App
	out      *bytes.Buffer
	invoker  *step.MockInvoker
	executor *recordingExecutor
	base     string
}

// newTestEnv builds an App with mocks, a plan file, and rule files for the
// given step identifiers.
func newTestEnv(t *testing.T, planDoc string, ruleIDs ...string) *testEnv {
	t.Helper()

	base := t.TempDir()
	planPath := filepath.Join(base, "audit-plan.md")
	ruleDir := filepath.Join(base, "rules")
	if err := os.WriteFile(planPath, []byte(planDoc), 0644); err != nil {
		t.Fatalf("failed to write plan: %v", err)
	}
	if err := os.MkdirAll(ruleDir, 0755); err != nil {
		t.Fatalf("failed to create rule dir: %v", err)
	}
	for _, id := range ruleIDs {
		rule := "Audit rule for " + id + "."
		if err := os.WriteFile(filepath.Join(ruleDir, id+".md"), []byte(rule), 0644); err != nil {
			t.Fatalf("failed to write rule %s: %v", id, err)
		}
	}

	out := &bytes.Buffer{}
	invoker := &step.MockInvoker{Output: "findings"}
	executor := &recordingExecutor{}

	cfg := config.DefaultConfig()
	cfg.Agent = "gemini"
	cfg.Model = "gemini-2.5-pro"
	cfg.PlanPath = planPath
	cfg.RuleDir = ruleDir
	cfg.ArtifactsDir = filepath.Join(base, "reports", ".artifacts")
	cfg.ReportPath = filepath.Join(base, "reports", "audit-report.md")

	app := &App{
		Config:        cfg,
		Logger:        zap.NewNop(),
		Out:           out,
		Prober:        fixedProber{binaries: map[string]bool{"gemini": true}},
		Invoker:       invoker,
		PreflightExec: executor,
	}

	return &testEnv{app: app, out: out, invoker: invoker, executor: executor, base: base}
}

// execute runs the root command with the given args and returns the exit
// code the process would have used.
func (e *testEnv) execute(t *testing.T, args ...string) (int, error) {
	t.Helper()

	root := NewRootCommand(e.app)
	root.SetArgs(args)
	root.SetOut(e.out)
	root.SetErr(e.out)

	err := root.Execute()
	if err == nil {
		return 0, nil
	}
	if code, ok := IsExitError(err); ok {
		return code, err
	}
	return 1, err
}
