// This file implements the spec document text format: YAML frontmatter
// followed by "### Requirement:" blocks with "#### Scenario:" WHEN/THEN
// clauses.
package specdoc

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Document errors.
var (
	ErrMalformedDocument    = errors.New("malformed document")
	ErrMalformedFrontmatter = errors.New("malformed frontmatter")
)

var (
	reqHeaderPattern      = regexp.MustCompile(`^###\s+Requirement:\s*(.+?)\s*$`)
	scenarioHeaderPattern = regexp.MustCompile(`^####\s+Scenario:\s*(.+?)\s*$`)
	sectionPattern        = regexp.MustCompile(`^##\s+(.+?)\s*$`)
	clausePattern         = regexp.MustCompile(`^-\s+\*\*(WHEN|THEN|AND)\*\*\s+(.+?)\s*$`)
	idLinePattern         = regexp.MustCompile("^\\*\\*ID\\*\\*:\\s*`?([^`]+?)`?\\s*$")
	statusLinePattern     = regexp.MustCompile(`^\*\*Status\*\*:\s*(\S+)\s*$`)
	phasesLinePattern     = regexp.MustCompile(`^\*\*Phases\*\*:\s*(.+?)\s*$`)
)

// frontmatter is the YAML header of a spec document.
type frontmatter struct {
	Name    string `yaml:"name"`
	Version uint64 `yaml:"version"`
}

// Serialize renders s in the spec document format. Parse(Serialize(s))
// yields a spec structurally equal to s for every requirement that passes
// Requirement.Validate.
func (s *Spec) Serialize() string {
	var b strings.Builder
	fm, _ := yaml.Marshal(frontmatter{Name: s.Name, Version: s.Version})
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n", s.Name)
	for _, n := range s.order {
		b.WriteString("\n")
		writeRequirement(&b, s.reqs[n])
	}
	return b.String()
}

func writeRequirement(b *strings.Builder, r types.Requirement) {
	fmt.Fprintf(b, "### Requirement: %s\n", r.Name)
	if r.ID != "" {
		fmt.Fprintf(b, "**ID**: `%s`\n", r.ID)
	}
	status := r.Status
	if status == "" {
		status = types.StatusNotStarted
	}
	fmt.Fprintf(b, "**Status**: %s\n", status)
	if len(r.Phases) > 0 {
		ps := make([]string, len(r.Phases))
		for i, p := range r.Phases {
			ps[i] = strconv.FormatUint(uint64(p), 10)
		}
		fmt.Fprintf(b, "**Phases**: %s\n", strings.Join(ps, ", "))
	}
	if r.Statement != "" {
		b.WriteString("\n")
		b.WriteString(r.Statement)
		b.WriteString("\n")
	}
	for _, sc := range r.Scenarios {
		fmt.Fprintf(b, "\n#### Scenario: %s\n", sc.Name)
		for _, w := range sc.When {
			fmt.Fprintf(b, "- **WHEN** %s\n", w)
		}
		for _, t := range sc.Then {
			fmt.Fprintf(b, "- **THEN** %s\n", t)
		}
	}
}

// Parse reads a spec document. The name argument labels errors; the spec
// name and version come from the frontmatter, falling back to name and 0.
// Every requirement must pass Requirement.Validate.
func Parse(name, text string) (*Spec, error) {
	fm, body, bodyLine, err := splitFrontmatter(text)
	if err != nil {
		return nil, &types.ParseError{Input: name, Line: 1, Err: err}
	}
	s := New(name)
	if fm.Name != "" {
		s.Name = fm.Name
	}
	s.Version = fm.Version

	p := &blockParser{doc: name, lines: strings.Split(body, "\n"), offset: bodyLine - 1}
	for p.more() {
		line := p.peek()
		if reqHeaderPattern.MatchString(line) {
			hdr := p.lineNo()
			r, err := p.requirement(true)
			if err != nil {
				return nil, err
			}
			if s.Has(r.Name) {
				return nil, &types.ParseError{Input: name, Line: hdr, Token: r.Name, Err: types.ErrDuplicateRequirement}
			}
			s.Put(r)
			continue
		}
		p.next()
	}
	return s, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body. It returns the 1-based line number the body starts on.
func splitFrontmatter(text string) (frontmatter, string, int, error) {
	var fm frontmatter
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.SplitAfter(text, "\n")
	if strings.TrimRight(lines[0], " \t\n") != "---" {
		return fm, text, 1, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\n") != "---" {
			continue
		}
		raw := strings.Join(lines[1:i], "")
		if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
			return fm, "", 0, fmt.Errorf("%w: %v", ErrMalformedFrontmatter, err)
		}
		return fm, strings.Join(lines[i+1:], ""), i + 2, nil
	}
	return fm, "", 0, fmt.Errorf("%w: missing closing ---", ErrMalformedFrontmatter)
}

// blockParser walks document lines. It is shared by the spec and delta
// parsers.
type blockParser struct {
	doc    string
	lines  []string
	pos    int
	offset int
}

func (p *blockParser) more() bool   { return p.pos < len(p.lines) }
func (p *blockParser) peek() string { return strings.TrimRight(p.lines[p.pos], " \t") }
func (p *blockParser) next() string { l := p.peek(); p.pos++; return l }
func (p *blockParser) lineNo() int  { return p.pos + 1 + p.offset }

func (p *blockParser) errorf(token string, err error) error {
	return &types.ParseError{Input: p.doc, Line: p.lineNo(), Token: token, Err: err}
}

// atBoundary reports whether the current line ends a requirement block.
func (p *blockParser) atBoundary() bool {
	l := p.peek()
	return reqHeaderPattern.MatchString(l) || sectionPattern.MatchString(l)
}

// requirement parses one "### Requirement:" block starting at the current
// line. When validate is set the result must pass Requirement.Validate.
func (p *blockParser) requirement(validate bool) (types.Requirement, error) {
	hdrLine := p.lineNo()
	m := reqHeaderPattern.FindStringSubmatch(p.next())
	r := types.Requirement{Name: m[1], Status: types.StatusNotStarted}

	var statement []string
	inMeta, sawMeta := true, false
	var cur *types.Scenario
	var lastClause string

	for p.more() && !p.atBoundary() {
		line := p.peek()
		trimmed := strings.TrimSpace(line)

		if sm := scenarioHeaderPattern.FindStringSubmatch(line); sm != nil {
			p.next()
			r.Scenarios = append(r.Scenarios, types.Scenario{Name: sm[1]})
			cur = &r.Scenarios[len(r.Scenarios)-1]
			lastClause = ""
			inMeta = false
			continue
		}

		if cur != nil {
			if trimmed == "" {
				p.next()
				continue
			}
			cm := clausePattern.FindStringSubmatch(trimmed)
			if cm == nil {
				return r, p.errorf(trimmed, fmt.Errorf("%w: expected WHEN/THEN clause", ErrMalformedDocument))
			}
			kind := cm[1]
			if kind == "AND" {
				if lastClause == "" {
					return r, p.errorf(trimmed, fmt.Errorf("%w: AND without preceding clause", ErrMalformedDocument))
				}
				kind = lastClause
			}
			if kind == "WHEN" {
				cur.When = append(cur.When, cm[2])
			} else {
				cur.Then = append(cur.Then, cm[2])
			}
			lastClause = kind
			p.next()
			continue
		}

		if inMeta {
			switch {
			case trimmed == "":
				if sawMeta {
					inMeta = false
				}
				p.next()
				continue
			case idLinePattern.MatchString(trimmed):
				r.ID = idLinePattern.FindStringSubmatch(trimmed)[1]
				if _, err := types.ParseIdentifier(r.ID); err != nil {
					return r, p.errorf(r.ID, err)
				}
				sawMeta = true
				p.next()
				continue
			case statusLinePattern.MatchString(trimmed):
				tok := statusLinePattern.FindStringSubmatch(trimmed)[1]
				st, err := types.ParseRequirementStatus(tok)
				if err != nil {
					return r, p.errorf(tok, err)
				}
				r.Status = st
				sawMeta = true
				p.next()
				continue
			case phasesLinePattern.MatchString(trimmed):
				phases, err := parsePhases(phasesLinePattern.FindStringSubmatch(trimmed)[1])
				if err != nil {
					return r, p.errorf(trimmed, err)
				}
				r.SetPhases(phases...)
				sawMeta = true
				p.next()
				continue
			}
			inMeta = false
		}

		statement = append(statement, line)
		p.next()
	}

	r.Statement = strings.TrimSpace(strings.Join(statement, "\n"))
	if validate {
		if err := r.Validate(); err != nil {
			return r, &types.ParseError{Input: p.doc, Line: hdrLine, Token: r.Name, Err: err}
		}
	}
	return r, nil
}

func parsePhases(s string) ([]uint, error) {
	var out []uint
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil || n == 0 {
			return nil, types.ErrNonIntegerPhase
		}
		out = append(out, uint(n))
	}
	return out, nil
}
