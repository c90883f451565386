// Package preflight runs the deterministic subset of plan steps locally,
// without an AI round-trip.
//
// A static per-technology table maps the step identifiers known to be
// safely automatable (tool install, version alignment, version validation,
// coverage generation) to local commands. The table is data, not code: the
// default ships embedded as YAML and a deployment can override it from a
// file, so new technologies extend the table without touching the engine.
//
// Removing deterministic work from the agent loop is a latency and token
// cost optimization; the --no-preflight override disables the split for
// debugging or for contexts that cannot shell out.
package preflight

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"auditum/internal/plan"
)

//go:embed table.yaml
var defaultTableYAML []byte

// Command is one automatable step's local invocation.
type Command struct {
	// Argv is the command and its arguments, run in the target project dir.
	Argv []string `yaml:"argv"`

	// Hint tells the operator how to unblock a failed mandatory step.
	Hint string `yaml:"hint"`
}

// Table maps technology → step identifier → local command.
type Table map[string]map[string]Command

// DefaultTable returns the embedded technology table.
func DefaultTable() Table {
	t, err := parseTable(defaultTableYAML)
	if err != nil {
		// The embedded table is part of the build; a parse failure here is
		// a programming error, not a runtime condition.
		panic(fmt.Sprintf("embedded preflight table invalid: %v", err))
	}
	return t
}

// LoadTable reads a technology table from a YAML file. An empty path
// returns [DefaultTable].
func LoadTable(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preflight table: %w", err)
	}
	t, err := parseTable(data)
	if err != nil {
		return nil, fmt.Errorf("preflight table %s: %w", path, err)
	}
	return t, nil
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse preflight table: %w", err)
	}
	for tech, steps := range t {
		for id, cmd := range steps {
			if len(cmd.Argv) == 0 {
				return nil, fmt.Errorf("preflight entry %s/%s has no argv", tech, id)
			}
		}
	}
	return t, nil
}

// Commands returns the automatable step commands for a technology. Unknown
// technologies get an empty map, which delegates every step to the agent.
func (t Table) Commands(technology string) map[string]Command {
	return t[technology]
}

// Partition splits the plan into locally runnable and agent-delegated
// steps for the given technology. When disabled, everything is delegated.
// Relative order is preserved in both halves.
func (t Table) Partition(steps []plan.Step, technology string, disabled bool) (local, delegated []plan.Step) {
	if disabled {
		return nil, steps
	}
	commands := t.Commands(technology)
	for _, s := range steps {
		if _, ok := commands[s.ID]; ok {
			local = append(local, s)
		} else {
			delegated = append(delegated, s)
		}
	}
	return local, delegated
}
