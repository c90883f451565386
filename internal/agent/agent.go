// Package agent describes the supported AI agent backends and resolves
// which backend and model a run should use.
//
// Each backend is an external CLI binary invoked as a subprocess. The static
// [Descriptor] table records, per backend, the binary name, the default
// model, and the models offered for interactive selection.
//
// Key types:
//   - [Kind] - Enum of supported backends
//   - [Descriptor] - Static per-backend metadata
//   - [Resolver] - Picks one backend and model for a run
//   - [Prober] - Interface for backend availability detection
package agent

import (
	"errors"
	"fmt"
	"os/exec"
)

// Kind identifies an agent backend.
type Kind string

const (
	// KindClaude is the Claude CLI backend. It emits stream-json output and
	// reports token usage and monetary cost in its result event.
	KindClaude Kind = "claude"

	// KindGemini is the Gemini CLI backend. It reports token counts as
	// plain-text footer markers and does not report cost.
	KindGemini Kind = "gemini"

	// KindCodex is the Codex CLI backend. It reports no usage markers.
	KindCodex Kind = "codex"
)

// preferenceOrder is the autodetection order: earlier kinds win when
// several backends are installed and none was explicitly requested.
var preferenceOrder = []Kind{KindClaude, KindGemini, KindCodex}

// Descriptor is the static metadata for one agent backend.
type Descriptor struct {
	// Kind identifies the backend.
	Kind Kind

	// Binary is the executable name probed on PATH and spawned per step.
	Binary string

	// DefaultModel is used when no model is chosen explicitly or interactively.
	DefaultModel string

	// Models are the models offered for interactive selection, default first.
	Models []string

	// ReportsCost is true when the backend reports monetary cost in its output.
	ReportsCost bool
}

var descriptors = map[Kind]Descriptor{
	KindClaude: {
		Kind:         KindClaude,
		Binary:       "claude",
		DefaultModel: "sonnet",
		Models:       []string{"sonnet", "opus", "haiku"},
		ReportsCost:  true,
	},
	KindGemini: {
		Kind:         KindGemini,
		Binary:       "gemini",
		DefaultModel: "gemini-2.5-pro",
		Models:       []string{"gemini-2.5-pro", "gemini-2.5-flash"},
		ReportsCost:  false,
	},
	KindCodex: {
		Kind:         KindCodex,
		Binary:       "codex",
		DefaultModel: "gpt-5-codex",
		Models:       []string{"gpt-5-codex", "o4-mini"},
		ReportsCost:  false,
	},
}

// Kinds returns all supported backend kinds in autodetection preference order.
func Kinds() []Kind {
	out := make([]Kind, len(preferenceOrder))
	copy(out, preferenceOrder)
	return out
}

// Describe returns the [Descriptor] for a backend kind.
func Describe(k Kind) (Descriptor, error) {
	d, ok := descriptors[k]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownAgent, k)
	}
	return d, nil
}

// Sentinel errors for agent resolution.
var (
	// ErrNoAgentAvailable indicates probing found zero usable backends and
	// none was explicitly forced. Fatal before any step runs.
	ErrNoAgentAvailable = errors.New("no agent backend available")

	// ErrUnknownAgent indicates an explicitly requested backend name that
	// is not in the descriptor table.
	ErrUnknownAgent = errors.New("unknown agent backend")
)

// Prober detects whether a backend binary is usable on this machine.
//
// The production implementation is [ExecProber]. Tests inject a fake so
// resolution never depends on the developer's PATH.
type Prober interface {
	// Available reports whether the given binary can be invoked.
	Available(binary string) bool
}

// ExecProber implements [Prober] via exec.LookPath.
type ExecProber struct{}

// Available reports whether the binary is found on PATH.
func (ExecProber) Available(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
