// Package report renders the operator-visible run summary.
//
// The summary is printed, never persisted: per-step lines with token
// counts, elapsed time, and cost where the backend reported one, then an
// aggregate line with totals and the wall time split into preflight and
// agent time.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"auditum/internal/usage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	totalStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	abortStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Printer writes run summaries to a terminal.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a [Printer] writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// PrintSummary renders the per-step usage lines and the aggregate totals.
// aborted switches the heading so partial summaries are visibly partial.
func (p *Printer) PrintSummary(s usage.Summary, aborted bool) {
	heading := headerStyle.Render("Run summary")
	if aborted {
		heading = abortStyle.Render("Run aborted — partial summary")
	}
	fmt.Fprintln(p.out, heading)

	for _, r := range s.Records {
		marker := " "
		if r.Preflight {
			marker = dimStyle.Render("local")
		}
		line := fmt.Sprintf("  %2d. %-24s in:%-8d out:%-8d %-10s %-8s %s",
			r.StepIndex,
			stepStyle.Render(r.StepID),
			r.InputTokens,
			r.OutputTokens,
			formatDuration(r.Elapsed),
			formatCost(r.CostUSD),
			marker)
		fmt.Fprintln(p.out, line)
	}

	fmt.Fprintln(p.out, totalStyle.Render(fmt.Sprintf(
		"  total: in:%d out:%d cost:%s wall:%s (preflight %s, agent %s)",
		s.TotalInputTokens,
		s.TotalOutputTokens,
		formatCost(s.TotalCostUSD),
		formatDuration(s.TotalWallTime),
		formatDuration(s.PreflightWallTime),
		formatDuration(s.AgentWallTime))))
}

// formatCost renders a cost in USD, or a dash when no backend reported one.
func formatCost(cost *float64) string {
	if cost == nil {
		return "-"
	}
	return fmt.Sprintf("$%.4f", *cost)
}

// formatDuration rounds to whole seconds for display.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
