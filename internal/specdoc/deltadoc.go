// This file implements the delta document format: "## ADDED Requirements",
// "## MODIFIED Requirements", "## REMOVED Requirements" and
// "## RENAMED Requirements" sections, read and written in declaration order.
package specdoc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

var (
	deltaSectionPattern = regexp.MustCompile(`^##\s+(ADDED|MODIFIED|REMOVED|RENAMED)\s+Requirements\s*$`)
	renameFromPattern   = regexp.MustCompile("^-\\s+FROM:\\s*`?(?:###\\s+Requirement:\\s*)?([^`]+?)`?\\s*$")
	renameToPattern     = regexp.MustCompile("^-\\s+TO:\\s*`?(?:###\\s+Requirement:\\s*)?([^`]+?)`?\\s*$")
)

// ParseDeltas reads a delta document and returns its deltas in document
// order. ADDED and MODIFIED payloads are parsed but not validated; payload
// preconditions are checked when the batch is applied.
func ParseDeltas(name, text string) ([]types.Delta, error) {
	_, body, bodyLine, err := splitFrontmatter(text)
	if err != nil {
		return nil, &types.ParseError{Input: name, Line: 1, Err: err}
	}

	p := &blockParser{doc: name, lines: strings.Split(body, "\n"), offset: bodyLine - 1}
	var (
		deltas   []types.Delta
		op       types.Operation
		fromName string
		fromLine int
	)

	closeRename := func() error {
		if fromName != "" {
			return &types.ParseError{Input: name, Line: fromLine, Token: fromName, Err: fmt.Errorf("%w: FROM without TO", ErrMalformedDocument)}
		}
		return nil
	}

	for p.more() {
		line := p.peek()
		trimmed := strings.TrimSpace(line)

		if m := deltaSectionPattern.FindStringSubmatch(line); m != nil {
			if err := closeRename(); err != nil {
				return nil, err
			}
			op = types.Operation(m[1])
			p.next()
			continue
		}
		if sectionPattern.MatchString(line) {
			if err := closeRename(); err != nil {
				return nil, err
			}
			// Any other second-level heading ends the current section.
			op = ""
			p.next()
			continue
		}

		switch op {
		case types.OpAdded, types.OpModified:
			if reqHeaderPattern.MatchString(line) {
				r, err := p.requirement(false)
				if err != nil {
					return nil, err
				}
				deltas = append(deltas, types.Delta{Operation: op, Target: r.Name, Payload: &r})
				continue
			}
		case types.OpRemoved:
			if m := reqHeaderPattern.FindStringSubmatch(line); m != nil {
				deltas = append(deltas, types.Delta{Operation: op, Target: m[1]})
			}
		case types.OpRenamed:
			if m := renameFromPattern.FindStringSubmatch(trimmed); m != nil {
				if err := closeRename(); err != nil {
					return nil, err
				}
				fromName, fromLine = m[1], p.lineNo()
			} else if m := renameToPattern.FindStringSubmatch(trimmed); m != nil {
				if fromName == "" {
					return nil, p.errorf(trimmed, fmt.Errorf("%w: TO without FROM", ErrMalformedDocument))
				}
				deltas = append(deltas, types.Delta{Operation: op, Target: fromName, NewName: m[1]})
				fromName = ""
			}
		default:
			if reqHeaderPattern.MatchString(line) {
				return nil, p.errorf(trimmed, fmt.Errorf("%w: requirement outside a delta section", ErrMalformedDocument))
			}
		}
		p.next()
	}
	if err := closeRename(); err != nil {
		return nil, err
	}
	return deltas, nil
}

// SerializeDeltas renders deltas as a delta document. A new section header
// is written whenever the operation changes, so ParseDeltas returns the
// deltas in the same order.
func SerializeDeltas(deltas []types.Delta) string {
	var b strings.Builder
	var op types.Operation
	for _, d := range deltas {
		if d.Operation != op {
			if op != "" {
				b.WriteString("\n")
			}
			op = d.Operation
			fmt.Fprintf(&b, "## %s Requirements\n", op)
		}
		b.WriteString("\n")
		switch d.Operation {
		case types.OpAdded, types.OpModified:
			if d.Payload != nil {
				writeRequirement(&b, *d.Payload)
			} else {
				fmt.Fprintf(&b, "### Requirement: %s\n", d.Target)
			}
		case types.OpRemoved:
			fmt.Fprintf(&b, "### Requirement: %s\n", d.Target)
		case types.OpRenamed:
			fmt.Fprintf(&b, "- FROM: `### Requirement: %s`\n", d.Target)
			fmt.Fprintf(&b, "- TO: `### Requirement: %s`\n", d.NewName)
		}
	}
	return b.String()
}
