package claude

import (
	"bufio"
	"encoding/json"
	"io"
)

// Parser parses streaming JSON output from the Claude CLI.
//
// The channel returned by Parse is closed on EOF, reader closure, or an
// unrecoverable read error. Malformed JSON lines are silently skipped for
// resilience against partial or corrupted output.
type Parser interface {
	// Parse reads stream-json from the reader and returns a channel of
	// [Event] values. Empty and unparseable lines are skipped.
	Parse(reader io.Reader) <-chan Event
}

// DefaultParser implements [Parser] for Claude's stream-json format.
//
// BufferSize bounds the length of a single JSON line; Claude can emit very
// large objects (file contents inside tool results), so the default is 10MB.
// Create instances with [NewParser].
type DefaultParser struct {
	BufferSize int
}

const defaultBufferSize = 10 * 1024 * 1024

// NewParser creates a [DefaultParser] with the default 10MB line buffer.
func NewParser() *DefaultParser {
	return &DefaultParser{BufferSize: defaultBufferSize}
}

// Parse reads stream-json from the reader and emits parsed [Event] values
// on the returned channel. Parsing runs in a goroutine; the channel closes
// when the reader is exhausted.
func (p *DefaultParser) Parse(reader io.Reader) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		scanner := bufio.NewScanner(reader)
		bufSize := p.BufferSize
		if bufSize <= 0 {
			bufSize = defaultBufferSize
		}
		buf := make([]byte, 0, 1024*1024)
		scanner.Buffer(buf, bufSize)

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}

			var streamEvent StreamEvent
			if err := json.Unmarshal([]byte(line), &streamEvent); err != nil {
				continue
			}

			events <- NewEventFromStream(&streamEvent)
		}

		// scanner.Err() is deliberately ignored: EOF and pipe closure are
		// both normal session endings here.
	}()

	return events
}

// ParseSingle parses one stream-json line into an [Event].
//
// Unlike [Parser.Parse] it reports malformed input as an error instead of
// skipping it. The usage extractor uses it to pick the result event out of
// a captured output stream.
func ParseSingle(line string) (Event, error) {
	var streamEvent StreamEvent
	if err := json.Unmarshal([]byte(line), &streamEvent); err != nil {
		return Event{}, err
	}
	return NewEventFromStream(&streamEvent), nil
}
