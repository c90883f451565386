package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"auditum/internal/plan"
	"auditum/internal/preflight"
)

func newPlanCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Preview the plan without executing anything",
		Long: `Preview the plan: which steps would run locally as preflight and
which would be delegated to the agent backend. Nothing executes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config

			pl, err := plan.LoadFile(cfg.PlanPath)
			if err != nil {
				return err
			}

			table, err := preflight.LoadTable(cfg.PreflightTablePath)
			if err != nil {
				return err
			}

			local, _ := table.Partition(pl.Steps, cfg.Technology, cfg.DisablePreflight)
			localSet := make(map[string]bool, len(local))
			for _, s := range local {
				localSet[s.ID] = true
			}

			fmt.Fprintf(app.Out, "Plan: %s (%d steps, technology %s)\n", cfg.PlanPath, len(pl.Steps), cfg.Technology)
			for _, s := range pl.Steps {
				mode := "agent"
				if localSet[s.ID] {
					mode = "local"
				}
				mark := " "
				if s.Mandatory {
					mark = "!"
				}
				fmt.Fprintf(app.Out, "  %2d.%s %-24s %-5s %s\n", s.Index, mark, s.ID, mode, s.Annotation)
			}
			return nil
		},
	}
}
