package usage

import (
	"strings"

	"auditum/internal/agent"
	"auditum/internal/claude"
)

// Extractor pulls token and cost figures out of one step's raw output.
//
// Implementations fill only the token and cost fields of the returned
// [Record]; the caller owns step identity and elapsed time. Output with no
// recognizable markers yields a zero Record — extraction never fails a step.
type Extractor interface {
	Extract(raw string) Record
}

// ForKind returns the [Extractor] for an agent backend.
//
// Unknown kinds get the null extractor, keeping usage extraction tolerant
// of backends added after this release.
func ForKind(kind agent.Kind) Extractor {
	switch kind {
	case agent.KindClaude:
		return ClaudeExtractor{}
	case agent.KindGemini:
		return GeminiExtractor{}
	default:
		return NullExtractor{}
	}
}

// ClaudeExtractor reads usage from the stream-json result event.
//
// The Claude CLI prints one JSON object per line; the session's final
// "result" event carries input/output token counts and total_cost_usd.
// The stream is scanned from the end so a result event is found even when
// the step produced a long transcript.
type ClaudeExtractor struct{}

// Extract scans the raw stream-json output for the result event.
func (ClaudeExtractor) Extract(raw string) Record {
	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		event, err := claude.ParseSingle(line)
		if err != nil || !event.SessionComplete {
			continue
		}
		// The result event always carries total_cost_usd; a zero there is a
		// real $0.00 session, not an unknown cost, so the pointer is set
		// whenever the event itself is present.
		cost := event.CostUSD
		return Record{
			InputTokens:  event.InputTokens,
			OutputTokens: event.OutputTokens,
			CostUSD:      &cost,
		}
	}
	return Record{}
}

// GeminiExtractor reads usage from Gemini's plain-text session footer.
//
// The Gemini CLI prints "Input tokens: N" and "Output tokens: N" lines at
// the end of a session. It reports no monetary cost, so CostUSD stays nil.
type GeminiExtractor struct{}

// Extract scans the raw output for the token footer markers.
func (GeminiExtractor) Extract(raw string) Record {
	var rec Record
	if n, ok := parseTextMarker(raw, "Input tokens"); ok {
		rec.InputTokens = n
	}
	if n, ok := parseTextMarker(raw, "Output tokens"); ok {
		rec.OutputTokens = n
	}
	return rec
}

// NullExtractor recognizes no markers. Used for backends that report no
// usage at all (codex today); their steps still run and still count toward
// wall time, just with zero token figures.
type NullExtractor struct{}

// Extract returns an empty Record regardless of input.
func (NullExtractor) Extract(string) Record {
	return Record{}
}
