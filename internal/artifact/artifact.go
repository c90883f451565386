// Package artifact owns the per-run artifact directory and the final report.
//
// Each step persists its findings as <dir>/<stepID>.txt. Later steps read
// all prior artifacts but never mutate them; artifacts outlive the process
// so partial runs can be inspected after an abort.
//
// Every filesystem failure here wraps [ErrArtifactIO] and is treated as
// fatal by the engine regardless of the step's mandatory flag: once the
// artifact set may be inconsistent, downstream steps cannot be trusted to
// see correct state.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrArtifactIO marks any artifact or report filesystem failure.
var ErrArtifactIO = errors.New("artifact I/O failure")

// Entry is one written artifact in plan order.
type Entry struct {
	ID      string
	Content string
}

// Manager persists step artifacts and the final report for one run.
//
// A Manager is exclusively owned by one run; Reset at run start is the
// mechanism that prevents cross-run contamination, not a lock. ReadAll only
// surfaces artifacts written since the last Reset, so a stale file from an
// earlier failed run can never leak into a later step's context.
type Manager struct {
	dir        string
	reportPath string
	written    []Entry
}

// NewManager creates a Manager for the given artifact directory and final
// report path.
func NewManager(dir, reportPath string) *Manager {
	return &Manager{dir: dir, reportPath: reportPath}
}

// Dir returns the artifact directory path.
func (m *Manager) Dir() string { return m.dir }

// ReportPath returns the final report path.
func (m *Manager) ReportPath() string { return m.reportPath }

// Path returns the on-disk path for a step's artifact.
func (m *Manager) Path(stepID string) string {
	return filepath.Join(m.dir, stepID+".txt")
}

// Reset deletes all previous artifacts and any previous final report, then
// recreates an empty artifact directory. It must run before the first step
// of a run executes.
func (m *Manager) Reset() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("%w: clearing artifact directory: %v", ErrArtifactIO, err)
	}
	if m.reportPath != "" {
		if err := os.Remove(m.reportPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: clearing previous report: %v", ErrArtifactIO, err)
		}
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("%w: creating artifact directory: %v", ErrArtifactIO, err)
	}
	m.written = nil
	return nil
}

// Write persists one step's findings.
//
// The artifact is fully overwritten, never appended, and the write is
// atomic (temp file + rename) so a crash mid-write cannot leave a
// half-written artifact for a later run to trip over.
func (m *Manager) Write(stepID, content string) error {
	if err := m.atomicWrite(m.Path(stepID), content); err != nil {
		return fmt.Errorf("%w: writing artifact %s: %v", ErrArtifactIO, stepID, err)
	}
	m.written = append(m.written, Entry{ID: stepID, Content: content})
	return nil
}

// ReadAll returns the artifacts written since the last Reset, keyed by
// step identifier.
func (m *Manager) ReadAll() map[string]string {
	out := make(map[string]string, len(m.written))
	for _, e := range m.written {
		out[e.ID] = e.Content
	}
	return out
}

// Ordered returns the artifacts written since the last Reset in write
// order, which for a sequential run is plan order.
func (m *Manager) Ordered() []Entry {
	out := make([]Entry, len(m.written))
	copy(out, m.written)
	return out
}

// WriteReport persists the final consolidated report, fully overwriting
// any previous report.
func (m *Manager) WriteReport(content string) error {
	if dir := filepath.Dir(m.reportPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: creating report directory: %v", ErrArtifactIO, err)
		}
	}
	if err := m.atomicWrite(m.reportPath, content); err != nil {
		return fmt.Errorf("%w: writing report: %v", ErrArtifactIO, err)
	}
	return nil
}

func (m *Manager) atomicWrite(path, content string) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
