package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()
	return NewManager(filepath.Join(base, "reports", ".artifacts"), filepath.Join(base, "reports", "audit-report.md"))
}

func TestReset_ClearsPriorRunState(t *testing.T) {
	m := newTestManager(t)

	// Simulate a stale artifact and report from an earlier failed run.
	require.NoError(t, os.MkdirAll(m.Dir(), 0755))
	require.NoError(t, os.WriteFile(m.Path("stale_step"), []byte("old findings"), 0644))
	require.NoError(t, os.WriteFile(m.ReportPath(), []byte("old report"), 0644))

	require.NoError(t, m.Reset())
	require.NoError(t, m.Write("dependency_audit", "fresh findings"))

	all := m.ReadAll()
	assert.Equal(t, map[string]string{"dependency_audit": "fresh findings"}, all)

	_, err := os.Stat(m.Path("stale_step"))
	assert.True(t, os.IsNotExist(err), "stale artifact must be gone after reset")
	_, err = os.Stat(m.ReportPath())
	assert.True(t, os.IsNotExist(err), "previous report must be gone after reset")
}

func TestWrite_PersistsAndExposes(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Reset())

	require.NoError(t, m.Write("tool_installer", "tooling pinned"))
	require.NoError(t, m.Write("secrets_scan", "no credentials found"))

	data, err := os.ReadFile(m.Path("secrets_scan"))
	require.NoError(t, err)
	assert.Equal(t, "no credentials found", string(data))

	ordered := m.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "tool_installer", ordered[0].ID)
	assert.Equal(t, "secrets_scan", ordered[1].ID)
}

func TestWrite_OverwritesNotAppends(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Reset())

	require.NoError(t, m.Write("lint_check", "first"))
	require.NoError(t, m.Write("lint_check", "second"))

	data, err := os.ReadFile(m.Path("lint_check"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestReset_TwiceInARow(t *testing.T) {
	// Re-running the same plan must leave only second-run artifacts.
	m := newTestManager(t)

	require.NoError(t, m.Reset())
	require.NoError(t, m.Write("run1_step", "from run 1"))

	require.NoError(t, m.Reset())
	require.NoError(t, m.Write("run2_step", "from run 2"))

	assert.Equal(t, map[string]string{"run2_step": "from run 2"}, m.ReadAll())

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run2_step.txt", entries[0].Name())
}

func TestWriteReport(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Reset())

	require.NoError(t, m.WriteReport("# Audit Report\nall clear\n"))

	data, err := os.ReadFile(m.ReportPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "all clear")
}

func TestWrite_FailureWrapsErrArtifactIO(t *testing.T) {
	base := t.TempDir()
	// Point the artifact dir at a path whose parent is a regular file.
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	m := NewManager(filepath.Join(blocker, "artifacts"), filepath.Join(base, "report.md"))

	err := m.Write("any_step", "content")

	assert.ErrorIs(t, err, ErrArtifactIO)
}

func TestReset_FailureWrapsErrArtifactIO(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	m := NewManager(filepath.Join(blocker, "artifacts"), "")

	err := m.Reset()

	assert.ErrorIs(t, err, ErrArtifactIO)
}
