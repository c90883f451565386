// Package claude parses the Claude CLI's stream-json output.
//
// Each line of stream-json output is one JSON object, a [StreamEvent]. The
// package converts raw events into [Event] values with the fields the audit
// engine cares about: step progress (text and tool activity, for live
// logging) and the final result event, which carries token usage, monetary
// cost, and elapsed duration for the session.
//
// Key types:
//   - [Parser] - Interface for parsing a stream of events
//   - [Event] - Parsed event with convenience accessors
//   - [Usage] - Token counts from the result event
package claude

// StreamEvent is a raw JSON event from Claude's streaming output.
//
// It maps directly onto the stream-json wire format. Most callers should
// work with [Event]; the raw form is kept on [Event.Raw] for anything the
// parsed fields do not cover.
type StreamEvent struct {
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	Message       *MessageContent `json:"message,omitempty"`
	ToolUseResult *ToolResult     `json:"tool_use_result,omitempty"`

	// Result-event fields. Only present when Type is "result".
	Result       string  `json:"result,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
}

// Usage holds the token counts Claude reports in its result event.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// MessageContent is the content of an assistant message.
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is a single block within a message: "text" blocks carry Text,
// "tool_use" blocks carry Name and Input.
type ContentBlock struct {
	Type  string     `json:"type"`
	Text  string     `json:"text,omitempty"`
	Name  string     `json:"name,omitempty"`
	Input *ToolInput `json:"input,omitempty"`
}

// ToolInput holds the parameters of a tool invocation. Which fields are
// populated depends on the tool.
type ToolInput struct {
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
}

// ToolResult is the outcome of a tool execution, surfaced in user events.
type ToolResult struct {
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// EventType classifies events in Claude's streaming output.
type EventType string

const (
	// EventTypeSystem is a system event, typically session initialization.
	EventTypeSystem EventType = "system"

	// EventTypeAssistant is Claude output: text or tool invocations.
	EventTypeAssistant EventType = "assistant"

	// EventTypeUser carries tool execution results back to Claude.
	EventTypeUser EventType = "user"

	// EventTypeResult closes the session and carries usage and cost.
	EventTypeResult EventType = "result"
)

// SubtypeInit is the subtype of the system event that starts a session.
const SubtypeInit = "init"

// Event is a parsed event from Claude's streaming output.
//
// Created by [NewEventFromStream] and emitted by [Parser.Parse].
type Event struct {
	// Raw is the original [StreamEvent].
	Raw *StreamEvent

	// Type is the parsed event type.
	Type EventType

	// Subtype refines certain event types (system "init" in particular).
	Subtype string

	// Text is assistant text output, when present.
	Text string

	// ToolName and ToolDescription describe a tool invocation.
	ToolName        string
	ToolDescription string

	// SessionStarted is true for system init events.
	SessionStarted bool

	// SessionComplete is true for result events. When set, ResultText,
	// InputTokens, OutputTokens, CostUSD, and DurationMS hold the
	// session's final output and usage.
	SessionComplete bool
	ResultText      string
	InputTokens     int64
	OutputTokens    int64
	CostUSD         float64
	DurationMS      int64
	ResultIsError   bool
}

// NewEventFromStream converts a raw [StreamEvent] into an [Event].
func NewEventFromStream(raw *StreamEvent) Event {
	e := Event{
		Raw:     raw,
		Type:    EventType(raw.Type),
		Subtype: raw.Subtype,
	}

	switch e.Type {
	case EventTypeSystem:
		if raw.Subtype == SubtypeInit {
			e.SessionStarted = true
		}

	case EventTypeAssistant:
		if raw.Message != nil {
			for _, block := range raw.Message.Content {
				switch block.Type {
				case "text":
					e.Text = block.Text
				case "tool_use":
					e.ToolName = block.Name
					if block.Input != nil {
						e.ToolDescription = block.Input.Description
					}
				}
			}
		}

	case EventTypeResult:
		e.SessionComplete = true
		e.ResultText = raw.Result
		e.ResultIsError = raw.IsError
		e.CostUSD = raw.TotalCostUSD
		e.DurationMS = raw.DurationMS
		if raw.Usage != nil {
			e.InputTokens = raw.Usage.InputTokens
			e.OutputTokens = raw.Usage.OutputTokens
		}
	}

	return e
}

// IsText reports whether the event carries assistant text output.
func (e Event) IsText() bool {
	return e.Type == EventTypeAssistant && e.Text != ""
}

// IsToolUse reports whether the event is a tool invocation.
func (e Event) IsToolUse() bool {
	return e.Type == EventTypeAssistant && e.ToolName != ""
}
