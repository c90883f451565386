package agent

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"go.uber.org/zap"
)

// Selection is the outcome of agent resolution: one backend and one model,
// fixed for the duration of a run.
type Selection struct {
	Kind  Kind
	Model string
}

// ModelPrompter asks the operator to pick a model from a backend's list.
//
// The production implementation is [SurveyPrompter]. Tests inject a fake.
type ModelPrompter interface {
	// PickModel presents the models (default first) and returns the choice.
	// Implementations return defaultModel when the operator declines to pick.
	PickModel(d Descriptor) (string, error)
}

// SurveyPrompter implements [ModelPrompter] with an interactive terminal
// select. Accepting the pre-highlighted default resolves to the backend's
// default model.
type SurveyPrompter struct{}

// PickModel prompts for a model choice using survey.Select.
func (SurveyPrompter) PickModel(d Descriptor) (string, error) {
	var choice string
	prompt := &survey.Select{
		Message: fmt.Sprintf("Model for %s:", d.Kind),
		Options: d.Models,
		Default: d.DefaultModel,
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		// Declined or non-interactive terminal: fall back to the default.
		return d.DefaultModel, nil
	}
	if choice == "" {
		return d.DefaultModel, nil
	}
	return choice, nil
}

// Resolver picks the agent backend and model for a run.
//
// Resolution is deterministic given its inputs: an explicit backend always
// wins, then previously configured backends that probe as available, then
// the first available backend in preference order. Explicit models are used
// verbatim without validating against the descriptor's model list, so new
// backend models work without a release.
type Resolver struct {
	prober        Prober
	prompter      ModelPrompter
	preconfigured []Kind
	logger        *zap.Logger
}

// NewResolver creates a [Resolver].
//
// The preconfigured list carries backends chosen in earlier installs; it is
// injected rather than read from process-global state so the resolver stays
// testable in isolation. Pass nil when nothing was preconfigured.
func NewResolver(prober Prober, prompter ModelPrompter, preconfigured []Kind, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		prober:        prober,
		prompter:      prompter,
		preconfigured: preconfigured,
		logger:        logger,
	}
}

// Resolve picks the backend and model for a run.
//
// explicitAgent and explicitModel are operator overrides; pass empty strings
// for autodetection. An explicit agent is honored even when probing would
// not find it (the operator may know better than LookPath). An explicit
// model is used verbatim. Without an explicit model, the operator is
// prompted; declining resolves to the backend's default model.
//
// Returns [ErrUnknownAgent] for an unrecognized explicit agent and
// [ErrNoAgentAvailable] when autodetection finds nothing usable.
func (r *Resolver) Resolve(explicitAgent, explicitModel string) (Selection, error) {
	kind, err := r.pickKind(explicitAgent)
	if err != nil {
		return Selection{}, err
	}

	desc, err := Describe(kind)
	if err != nil {
		return Selection{}, err
	}

	if explicitModel != "" {
		// Used verbatim: no validation against desc.Models, so models newer
		// than this binary keep working.
		return Selection{Kind: kind, Model: explicitModel}, nil
	}

	model := desc.DefaultModel
	if r.prompter != nil {
		model, err = r.prompter.PickModel(desc)
		if err != nil {
			return Selection{}, fmt.Errorf("model selection failed: %w", err)
		}
		if model == "" {
			model = desc.DefaultModel
		}
	}

	r.logger.Debug("agent resolved",
		zap.String("agent", string(kind)),
		zap.String("model", model))
	return Selection{Kind: kind, Model: model}, nil
}

// Probe returns the backend kinds whose binaries are currently usable,
// in preference order.
func (r *Resolver) Probe() []Kind {
	var found []Kind
	for _, k := range preferenceOrder {
		d := descriptors[k]
		if r.prober.Available(d.Binary) {
			found = append(found, k)
		}
	}
	return found
}

func (r *Resolver) pickKind(explicitAgent string) (Kind, error) {
	if explicitAgent != "" {
		k := Kind(explicitAgent)
		if _, err := Describe(k); err != nil {
			return "", err
		}
		return k, nil
	}

	available := r.Probe()
	if len(available) == 0 {
		return "", ErrNoAgentAvailable
	}

	// Previously configured backends win over raw preference order when
	// they are still installed.
	availSet := make(map[Kind]bool, len(available))
	for _, k := range available {
		availSet[k] = true
	}
	for _, k := range r.preconfigured {
		if availSet[k] {
			return k, nil
		}
	}

	return available[0], nil
}
