package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/quire/internal/specdoc"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// File names inside a feature directory.
const (
	specFileName    = "spec.md"
	designFileName  = "design.md"
	changesFileName = "CHANGES.md"
	changesDirName  = "changes"
	changeFileName  = "change.yaml"
	deltaFileName   = "delta.md"
	tasksFileName   = "tasks.md"
)

var (
	designIDPattern    = regexp.MustCompile("\\*\\*ID\\*\\*:\\s*`([^`]+)`")
	statusPattern      = regexp.MustCompile(`^\*\*Status\*\*:\s*(\S+)\s*$`)
	indexHeaderPattern = regexp.MustCompile("^###\\s+Change:\\s*`?([^`\\s]+)`?\\s*$")
	taskPattern        = regexp.MustCompile(`^\s*[-*]\s+\[([ xX])\]\s+(.+?)\s*$`)
	changeDirPattern   = regexp.MustCompile(`^(\d+)-`)
	anyHeadingPattern  = regexp.MustCompile(`^#{1,6}\s`)
)

// designEntry is one identifier declared in design.md.
type designEntry struct {
	ID     types.Identifier
	Text   string
	Status types.Status // empty when the entry carries no status line
	Line   int
}

// parseDesign extracts "**ID**: `...`" declarations. A "**Status**:" line
// following an ID, before the next ID or heading, sets its status.
func parseDesign(path, text string) ([]designEntry, []types.Violation) {
	var (
		entries []designEntry
		viols   []types.Violation
		current = -1
	)
	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimRight(line, " \t\r")
		if anyHeadingPattern.MatchString(line) {
			current = -1
		}
		if m := designIDPattern.FindStringSubmatch(line); m != nil {
			id, err := types.ParseIdentifier(m[1])
			if err != nil {
				viols = append(viols, types.Violation{
					Kind:    types.KindMalformedDocument,
					Subject: m[1],
					Path:    path,
					Line:    lineNo,
					Message: err.Error(),
				})
				current = -1
				continue
			}
			entries = append(entries, designEntry{ID: id, Text: m[1], Line: lineNo})
			current = len(entries) - 1
			continue
		}
		if m := statusPattern.FindStringSubmatch(line); m != nil && current >= 0 {
			st, err := types.ParseRequirementStatus(m[1])
			if err != nil {
				viols = append(viols, types.Violation{
					Kind:    types.KindMalformedDocument,
					Subject: entries[current].Text,
					Path:    path,
					Line:    lineNo,
					Message: fmt.Sprintf("invalid status %q", m[1]),
				})
				continue
			}
			entries[current].Status = st
		}
	}
	return entries, viols
}

// indexEntry is one change listed in CHANGES.md.
type indexEntry struct {
	ID     string
	Status string // raw token, compared byte for byte
	Line   int    // line of the status marker, 0 when absent
}

// parseChangeIndex reads the "### Change: <id>" entries of CHANGES.md and
// the status marker under each.
func parseChangeIndex(text string) []indexEntry {
	var entries []indexEntry
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if m := indexHeaderPattern.FindStringSubmatch(line); m != nil {
			entries = append(entries, indexEntry{ID: m[1]})
			continue
		}
		if anyHeadingPattern.MatchString(line) {
			continue
		}
		if m := statusPattern.FindStringSubmatch(line); m != nil && len(entries) > 0 {
			last := &entries[len(entries)-1]
			if last.Line == 0 {
				last.Status = m[1]
				last.Line = i + 1
			}
		}
	}
	return entries
}

// setIndexStatus returns text with the status marker of change id set to
// status. An entry without a marker gets one under its header; a missing
// entry is appended.
func setIndexStatus(text, id string, status types.Status) string {
	lines := strings.Split(text, "\n")
	marker := fmt.Sprintf("**Status**: %s", status)
	for i, line := range lines {
		m := indexHeaderPattern.FindStringSubmatch(strings.TrimRight(line, " \t\r"))
		if m == nil || m[1] != id {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			l := strings.TrimRight(lines[j], " \t\r")
			if anyHeadingPattern.MatchString(l) {
				break
			}
			if statusPattern.MatchString(l) {
				lines[j] = marker
				return strings.Join(lines, "\n")
			}
		}
		out := append([]string{}, lines[:i+1]...)
		out = append(out, marker)
		out = append(out, lines[i+1:]...)
		return strings.Join(out, "\n")
	}

	text = strings.TrimRight(text, "\n")
	if text != "" {
		text += "\n\n"
	}
	return text + fmt.Sprintf("### Change: %s\n%s\n", id, marker)
}

// parseTasks reads a "- [ ] task" checklist.
func parseTasks(text string) []types.Task {
	var tasks []types.Task
	for _, line := range strings.Split(text, "\n") {
		m := taskPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		tasks = append(tasks, types.Task{Text: m[2], Done: m[1] != " "})
	}
	return tasks
}

// changeFile is the on-disk form of change.yaml.
type changeFile struct {
	ID             string   `yaml:"id"`
	Number         int      `yaml:"number,omitempty"`
	Status         string   `yaml:"status"`
	DependsOn      []string `yaml:"depends_on,omitempty"`
	Implements     []string `yaml:"implements,omitempty"`
	BatchAccepted  bool     `yaml:"batch_accepted"`
	AppliedVersion uint64   `yaml:"applied_version,omitempty"`
}

// readChangeFile loads change.yaml. The number falls back to the numeric
// prefix of the change directory name.
func readChangeFile(path, feature string) (types.Change, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Change{}, err
	}
	var cf changeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return types.Change{}, &types.ParseError{Input: path, Err: fmt.Errorf("%w: %v", specdoc.ErrMalformedDocument, err)}
	}
	status := cf.Status
	if status == "" {
		status = string(types.StatusNotStarted)
	}
	st, err := types.ParseChangeStatus(status)
	if err != nil {
		return types.Change{}, &types.ParseError{Input: path, Token: cf.Status, Err: err}
	}
	number := cf.Number
	if number == 0 {
		if m := changeDirPattern.FindStringSubmatch(filepath.Base(filepath.Dir(path))); m != nil {
			number, _ = strconv.Atoi(m[1])
		}
	}
	return types.Change{
		ID:             cf.ID,
		Feature:        feature,
		Number:         number,
		Status:         st,
		DependsOn:      cf.DependsOn,
		Implements:     cf.Implements,
		BatchAccepted:  cf.BatchAccepted,
		AppliedVersion: cf.AppliedVersion,
	}, nil
}

func writeChangeFile(path string, c types.Change) error {
	data, err := yaml.Marshal(changeFile{
		ID:             c.ID,
		Number:         c.Number,
		Status:         string(c.Status),
		DependsOn:      c.DependsOn,
		Implements:     c.Implements,
		BatchAccepted:  c.BatchAccepted,
		AppliedVersion: c.AppliedVersion,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", changeFileName, err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic replaces path through a synced temp file and a rename.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// setDesignStatus rewrites the status line of every design.md entry whose
// base identifier is base. Entries without a status line are left alone.
func setDesignStatus(text, base string, status types.Status) (string, bool) {
	lines := strings.Split(text, "\n")
	current := ""
	changed := false
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if anyHeadingPattern.MatchString(trimmed) {
			current = ""
		}
		if m := designIDPattern.FindStringSubmatch(trimmed); m != nil {
			current = ""
			if id, err := types.ParseIdentifier(m[1]); err == nil {
				current = id.Base().String()
			}
			continue
		}
		if current == base && statusPattern.MatchString(trimmed) {
			repl := fmt.Sprintf("**Status**: %s", status)
			if trimmed != repl {
				lines[i] = repl
				changed = true
			}
		}
	}
	return strings.Join(lines, "\n"), changed
}
