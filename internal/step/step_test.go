package step

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditum/internal/agent"
	"auditum/internal/artifact"
	"auditum/internal/plan"
)

func writeRule(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".md"), []byte(content), 0644))
}

func TestRun_Success(t *testing.T) {
	ruleDir := t.TempDir()
	writeRule(t, ruleDir, "dependency_audit", "Check every dependency for known CVEs.")

	inv := &MockInvoker{Output: "dep findings: all clean"}
	e := NewExecutor(inv, ruleDir, "/target", nil)
	sel := agent.Selection{Kind: agent.KindGemini, Model: "gemini-2.5-pro"}

	res, err := e.Run(context.Background(), plan.Step{Index: 2, ID: "dependency_audit"}, sel, nil)

	require.NoError(t, err)
	assert.Equal(t, "dep findings: all clean", res.Findings)
	assert.Equal(t, res.RawOutput, res.Findings)

	require.Len(t, inv.Calls, 1)
	prompt := inv.Calls[0]
	assert.Contains(t, prompt, "Audit step 2: dependency_audit")
	assert.Contains(t, prompt, "Check every dependency for known CVEs.")
}

func TestRun_PriorArtifactsInjectedInOrder(t *testing.T) {
	ruleDir := t.TempDir()
	writeRule(t, ruleDir, "report_generator", "Consolidate all findings into one report.")

	inv := &MockInvoker{Output: "# Report"}
	e := NewExecutor(inv, ruleDir, ".", nil)
	prior := []artifact.Entry{
		{ID: "tool_installer", Content: "tooling ok"},
		{ID: "dependency_audit", Content: "two outdated deps"},
	}

	_, err := e.Run(context.Background(), plan.Step{Index: 3, ID: "report_generator"}, agent.Selection{Kind: agent.KindCodex}, prior)

	require.NoError(t, err)
	prompt := inv.Calls[0]
	assert.Contains(t, prompt, "## tool_installer")
	assert.Contains(t, prompt, "## dependency_audit")
	assert.Less(t,
		strings.Index(prompt, "## tool_installer"),
		strings.Index(prompt, "## dependency_audit"),
		"prior artifacts must appear in plan order")
}

func TestRun_MissingRuleFile(t *testing.T) {
	e := NewExecutor(&MockInvoker{Output: "x"}, t.TempDir(), ".", nil)

	_, err := e.Run(context.Background(), plan.Step{Index: 1, ID: "absent_rule"}, agent.Selection{Kind: agent.KindClaude}, nil)

	assert.ErrorIs(t, err, ErrInvocation)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "absent_rule", f.StepID)
}

func TestRun_ProcessFailure(t *testing.T) {
	ruleDir := t.TempDir()
	writeRule(t, ruleDir, "secrets_scan", "Scan for secrets.")

	inv := &MockInvoker{FailOn: "secrets_scan"}
	e := NewExecutor(inv, ruleDir, ".", nil)

	_, err := e.Run(context.Background(), plan.Step{Index: 1, ID: "secrets_scan"}, agent.Selection{Kind: agent.KindClaude}, nil)

	assert.ErrorIs(t, err, ErrInvocation)
}

func TestRun_EmptyOutputIsFailure(t *testing.T) {
	ruleDir := t.TempDir()
	writeRule(t, ruleDir, "lint_check", "Lint.")

	inv := &MockInvoker{Output: "   \n"}
	e := NewExecutor(inv, ruleDir, ".", nil)

	_, err := e.Run(context.Background(), plan.Step{Index: 1, ID: "lint_check"}, agent.Selection{Kind: agent.KindGemini}, nil)

	assert.ErrorIs(t, err, ErrInvocation)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Contains(t, f.Reason, "no output")
}

func TestRun_ClaudeFindingsFromResultEvent(t *testing.T) {
	ruleDir := t.TempDir()
	writeRule(t, ruleDir, "api_review", "Review the API surface.")

	stream := `{"type":"system","subtype":"init"}
{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}
{"type":"result","result":"## API findings\n- one exported type undocumented","usage":{"input_tokens":100,"output_tokens":50}}`

	inv := &MockInvoker{Output: stream}
	e := NewExecutor(inv, ruleDir, ".", nil)

	res, err := e.Run(context.Background(), plan.Step{Index: 1, ID: "api_review"}, agent.Selection{Kind: agent.KindClaude}, nil)

	require.NoError(t, err)
	assert.Equal(t, "## API findings\n- one exported type undocumented", res.Findings)
	assert.Equal(t, stream, res.RawOutput)
}

func TestRun_ClaudeWithoutResultEventKeepsRaw(t *testing.T) {
	ruleDir := t.TempDir()
	writeRule(t, ruleDir, "api_review", "Review.")

	inv := &MockInvoker{Output: "plain text, no stream events"}
	e := NewExecutor(inv, ruleDir, ".", nil)

	res, err := e.Run(context.Background(), plan.Step{Index: 1, ID: "api_review"}, agent.Selection{Kind: agent.KindClaude}, nil)

	require.NoError(t, err)
	assert.Equal(t, "plain text, no stream events", res.Findings)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		kind agent.Kind
		want []string
	}{
		{
			name: "claude uses stream-json",
			kind: agent.KindClaude,
			want: []string{"claude", "-p", "do it", "--output-format", "stream-json", "--verbose", "--model", "m"},
		},
		{
			name: "gemini uses plain prompt",
			kind: agent.KindGemini,
			want: []string{"gemini", "-p", "do it", "-m", "m"},
		},
		{
			name: "codex uses exec subcommand",
			kind: agent.KindCodex,
			want: []string{"codex", "exec", "--model", "m", "do it"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := agent.Describe(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, buildArgs(desc, "m", "do it"))
		})
	}
}
