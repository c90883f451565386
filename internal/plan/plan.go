// Package plan parses audit plan documents into ordered execution steps.
//
// A plan document is a human-authored ordered list of audit steps, one step
// per line. Each line starts with a list marker (a number like "1." or "3)"
// or a bullet "-"/"*"), followed by the step identifier and optional free
// text. A literal MANDATORY token anywhere in the free text marks the step
// as mandatory; everything else becomes the step's annotation.
//
// Example:
//
//	# Audit plan: full hardening
//	1. tool_installer MANDATORY - install pinned audit tooling
//	2. version_validation - verify toolchain versions
//	3. dependency_audit - review dependency hygiene
//	4. report_generator MANDATORY - consolidate findings
//
// Lines that are blank, comments (#), or carry no list marker are ignored,
// which lets plans live inside larger markdown documents.
//
// Parsing is pure: no side effects, no filesystem access beyond the optional
// [LoadFile] convenience. Step ordering follows document order and indexes
// are assigned 1..N ascending.
package plan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// MandatoryToken is the annotation token that marks a step as mandatory.
// It is matched as a standalone word, optionally bracketed ("[MANDATORY]").
const MandatoryToken = "MANDATORY"

// Sentinel errors for plan parsing. Both classify as plan-parse failures:
// nothing runs when either is returned.
var (
	// ErrNoSteps indicates the document contained no recognizable step lines.
	ErrNoSteps = errors.New("plan contains no steps")

	// ErrDuplicateStep indicates two steps share an identifier. Identifiers
	// address rule files and artifacts, so they must be unique within a run.
	ErrDuplicateStep = errors.New("duplicate step identifier")
)

// Step is one unit of the ordered plan.
//
// Steps are immutable once parsed. Index is the 1-based position in the
// plan; execution always proceeds in ascending Index order.
type Step struct {
	// Index is the 1-based ordinal of the step within the plan.
	Index int

	// ID is the step identifier, unique within a plan. It addresses the
	// step's rule file (<ruleDir>/<ID>.md) and artifact (<artifactsDir>/<ID>.txt).
	ID string

	// Mandatory marks a step whose failure aborts the entire run.
	Mandatory bool

	// Annotation is the free text following the identifier, with the
	// MANDATORY token removed. May be empty.
	Annotation string
}

// Plan holds the ordered steps parsed from one plan document.
type Plan struct {
	// Steps are the execution steps in document order.
	Steps []Step
}

// LoadFile reads and parses a plan document from disk.
func LoadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// ParseString parses a plan document from a string.
// This is useful for testing and for embedding plan data.
func ParseString(doc string) (*Plan, error) {
	return Parse(strings.NewReader(doc))
}

// Parse reads a plan document and returns the ordered steps.
//
// Returns [ErrNoSteps] when no step lines are found and [ErrDuplicateStep]
// when two steps share an identifier. Both errors are deterministic: the
// same malformed document always fails the same way.
func Parse(r io.Reader) (*Plan, error) {
	scanner := bufio.NewScanner(r)

	var steps []Step
	seen := make(map[string]int)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		body, ok := stripListMarker(scanner.Text())
		if !ok {
			continue
		}

		id, rest := splitIdentifier(body)
		if id == "" {
			continue
		}

		mandatory, annotation := extractMandatory(rest)
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %q on line %d (first seen on line %d)", ErrDuplicateStep, id, lineNum, prev)
		}
		seen[id] = lineNum

		steps = append(steps, Step{
			Index:      len(steps) + 1,
			ID:         id,
			Mandatory:  mandatory,
			Annotation: annotation,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	return &Plan{Steps: steps}, nil
}

// IDs returns the step identifiers in plan order.
func (p *Plan) IDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// stripListMarker removes a leading list marker ("1.", "12)", "-", "*")
// and returns the remainder. Lines without a marker are not steps.
func stripListMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}

	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
		return strings.TrimSpace(trimmed[1:]), true
	}

	// Numbered marker: digits followed by "." or ")".
	i := 0
	for i < len(trimmed) && unicode.IsDigit(rune(trimmed[i])) {
		i++
	}
	if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') {
		return strings.TrimSpace(trimmed[i+1:]), true
	}

	return "", false
}

// splitIdentifier separates the step identifier from the trailing free text.
// Identifiers are word characters plus "-"; anything else ends the identifier.
func splitIdentifier(body string) (string, string) {
	end := len(body)
	for i, r := range body {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			end = i
			break
		}
	}
	return body[:end], strings.TrimSpace(body[end:])
}

// extractMandatory reports whether the free text carries the MANDATORY token
// and returns the annotation with the token and separator punctuation removed.
func extractMandatory(rest string) (bool, string) {
	fields := strings.Fields(rest)
	mandatory := false
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		stripped := strings.Trim(f, "[]():,")
		if stripped == MandatoryToken {
			mandatory = true
			continue
		}
		kept = append(kept, f)
	}
	annotation := strings.TrimLeft(strings.Join(kept, " "), "-–—: ")
	return mandatory, strings.TrimSpace(annotation)
}
