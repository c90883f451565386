// Package usage extracts token and cost figures from agent backend output
// and accumulates run-level totals.
//
// Extraction is observability, never a gating condition: output with no
// recognizable markers yields an empty [Record], not an error, and empty
// fields simply contribute nothing to the totals. Each backend has its own
// marker format, isolated behind the [Extractor] interface so format drift
// stays out of the run controller.
package usage

import (
	"strconv"
	"strings"
	"time"
)

// Record is the usage accounting for one completed step.
//
// Records are created once per step and never revised. CostUSD is nil for
// backends that do not report monetary cost.
type Record struct {
	// StepIndex is the 1-based plan index of the step.
	StepIndex int

	// StepID is the step identifier.
	StepID string

	// InputTokens and OutputTokens are the token counts the backend
	// reported, zero when unreported.
	InputTokens  int64
	OutputTokens int64

	// Elapsed is the wall time the step took, measured by the caller.
	Elapsed time.Duration

	// CostUSD is the monetary cost the backend reported, nil when the
	// backend does not report cost.
	CostUSD *float64

	// Preflight marks steps that ran locally without an agent round-trip.
	Preflight bool
}

// Summary is the run-level aggregate over all recorded steps.
//
// TotalCostUSD stays nil when no step reported a cost, so the display layer
// can distinguish "free" from "cost unknown".
type Summary struct {
	Records           []Record
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostUSD      *float64
	TotalWallTime     time.Duration
	PreflightWallTime time.Duration
	AgentWallTime     time.Duration
}

// Tracker accumulates per-step [Record] values into a [Summary].
//
// Totals grow monotonically; the zero value is ready to use. The tracker is
// not safe for concurrent use, which matches the engine's strictly
// sequential execution model.
type Tracker struct {
	records []Record
}

// Add records the usage for one completed step.
func (t *Tracker) Add(rec Record) {
	t.records = append(t.records, rec)
}

// Summary aggregates everything recorded so far.
//
// Calling Summary before the run finishes yields a partial summary covering
// only the steps that actually ran; the engine uses this on abort.
func (t *Tracker) Summary() Summary {
	s := Summary{Records: make([]Record, len(t.records))}
	copy(s.Records, t.records)

	var haveCost bool
	var cost float64
	for _, r := range t.records {
		s.TotalInputTokens += r.InputTokens
		s.TotalOutputTokens += r.OutputTokens
		s.TotalWallTime += r.Elapsed
		if r.Preflight {
			s.PreflightWallTime += r.Elapsed
		} else {
			s.AgentWallTime += r.Elapsed
		}
		if r.CostUSD != nil {
			haveCost = true
			cost += *r.CostUSD
		}
	}
	if haveCost {
		s.TotalCostUSD = &cost
	}
	return s
}

// parseTextMarker scans output lines for a "<label>: <number>" marker and
// returns the last occurrence, which for footer-style output is the final
// session total.
func parseTextMarker(raw, label string) (int64, bool) {
	var value int64
	found := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, label)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		if fields := strings.Fields(rest); len(fields) > 0 {
			rest = fields[0]
		}
		rest = strings.ReplaceAll(rest, ",", "")
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		value = n
		found = true
	}
	return value, found
}
