package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"auditum/internal/agent"
)

func newAgentsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agent backends and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := agent.NewResolver(app.Prober, nil, app.preconfiguredKinds(), app.Logger)
			available := resolver.Probe()
			availSet := make(map[agent.Kind]bool, len(available))
			for _, k := range available {
				availSet[k] = true
			}

			for _, k := range agent.Kinds() {
				desc, err := agent.Describe(k)
				if err != nil {
					continue
				}
				status := "not installed"
				if availSet[k] {
					status = "installed"
				}
				fmt.Fprintf(app.Out, "%-8s %-13s default=%s models=%s\n",
					desc.Kind, status, desc.DefaultModel, strings.Join(desc.Models, ","))
			}
			return nil
		},
	}
}
