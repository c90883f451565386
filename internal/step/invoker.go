package step

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"go.uber.org/zap"

	"auditum/internal/agent"
	"auditum/internal/claude"
)

// Invoker spawns an agent backend as an external process for one step and
// returns its full standard output.
//
// The invocation is a single blocking unit: it returns only after the
// subprocess has exited. Context cancellation kills the in-flight process.
// [ExecInvoker] is the production implementation; [MockInvoker] serves tests.
type Invoker interface {
	Invoke(ctx context.Context, sel agent.Selection, prompt, dir string) (string, error)
}

// ExecInvoker implements [Invoker] with os/exec, one argv shape per
// backend kind.
type ExecInvoker struct {
	logger *zap.Logger
}

// NewExecInvoker creates an [ExecInvoker].
func NewExecInvoker(logger *zap.Logger) *ExecInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecInvoker{logger: logger}
}

// Invoke runs the backend binary in the target directory and captures its
// complete stdout. Stderr is attached to the returned error on failure.
//
// Claude runs in stream-json mode; its events are parsed as they arrive so
// step progress (text and tool activity) reaches the log while the raw
// stream is still captured verbatim for usage extraction.
func (iv *ExecInvoker) Invoke(ctx context.Context, sel agent.Selection, prompt, dir string) (string, error) {
	desc, err := agent.Describe(sel.Kind)
	if err != nil {
		return "", err
	}

	argv := buildArgs(desc, sel.Model, prompt)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if sel.Kind == agent.KindClaude {
		return iv.invokeStreaming(cmd, &stderr)
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", desc.Binary, err, stderr.String())
	}
	return stdout.String(), nil
}

// invokeStreaming consumes claude's stream-json output live, logging
// progress events while accumulating the raw stream.
func (iv *ExecInvoker) invokeStreaming(cmd *exec.Cmd, stderr *bytes.Buffer) (string, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	var raw bytes.Buffer
	events := claude.NewParser().Parse(io.TeeReader(stdout, &raw))
	for event := range events {
		switch {
		case event.SessionStarted:
			iv.logger.Debug("agent session started")
		case event.IsToolUse():
			iv.logger.Debug("agent tool use",
				zap.String("tool", event.ToolName),
				zap.String("description", event.ToolDescription))
		case event.IsText():
			iv.logger.Debug("agent output", zap.String("text", event.Text))
		}
	}

	if err := cmd.Wait(); err != nil {
		return raw.String(), fmt.Errorf("claude: %w: %s", err, stderr.String())
	}
	return raw.String(), nil
}

// buildArgs constructs the backend-specific argv for a non-interactive
// single-prompt invocation.
func buildArgs(desc agent.Descriptor, model, prompt string) []string {
	switch desc.Kind {
	case agent.KindClaude:
		args := []string{desc.Binary, "-p", prompt, "--output-format", "stream-json", "--verbose"}
		if model != "" {
			args = append(args, "--model", model)
		}
		return args
	case agent.KindGemini:
		args := []string{desc.Binary, "-p", prompt}
		if model != "" {
			args = append(args, "-m", model)
		}
		return args
	case agent.KindCodex:
		args := []string{desc.Binary, "exec"}
		if model != "" {
			args = append(args, "--model", model)
		}
		return append(args, prompt)
	default:
		return []string{desc.Binary, prompt}
	}
}

// MockInvoker implements [Invoker] without spawning processes.
//
// Outputs maps step prompts' rule identifiers to canned output; FailOn
// simulates a nonzero exit for prompts containing the given substring.
type MockInvoker struct {
	// Output is returned for every invocation unless FailOn matches.
	Output string

	// FailOn, when non-empty and found in the prompt, makes Invoke fail.
	FailOn string

	// Err is returned on simulated failure (defaults to a generic error).
	Err error

	// Calls records the prompts of every invocation in order.
	Calls []string
}

// Invoke returns the canned output, recording the prompt.
func (m *MockInvoker) Invoke(_ context.Context, _ agent.Selection, prompt, _ string) (string, error) {
	m.Calls = append(m.Calls, prompt)
	if m.FailOn != "" && bytes.Contains([]byte(prompt), []byte(m.FailOn)) {
		err := m.Err
		if err == nil {
			err = fmt.Errorf("exit status 1")
		}
		return "", err
	}
	return m.Output, nil
}
