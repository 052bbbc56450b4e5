// Package corpus ties the core packages to a specification tree on disk.
//
// A corpus root holds quire.yaml and a features/ directory with one
// directory per feature:
//
//	features/<feature>/spec.md                     source-of-truth spec
//	features/<feature>/design.md                   identifier declarations
//	features/<feature>/CHANGES.md                  change index with status markers
//	features/<feature>/changes/<NNN>-<slug>/change.yaml
//	features/<feature>/changes/<NNN>-<slug>/delta.md
//	features/<feature>/changes/<NNN>-<slug>/tasks.md
//
// Load reads the tree; Validate, Apply, Complete and SyncStatus operate on
// what was loaded and write back through atomic file replacement. An
// optional ledger records every accepted spec version and change state.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/quire/internal/delta"
	"github.com/mesh-intelligence/quire/internal/logging"
	"github.com/mesh-intelligence/quire/internal/paths"
	"github.com/mesh-intelligence/quire/internal/specdoc"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Lookup errors.
var (
	ErrFeatureNotFound = errors.New("feature not found")
	ErrChangeNotFound  = errors.New("change not found")
	ErrAlreadyApplied  = errors.New("change batch already accepted")
)

// Options configures Load.
type Options struct {
	Logger *zap.Logger

	// Ledger, when attached, records spec versions, changes and links.
	Ledger types.Ledger
}

// Corpus is a loaded specification tree. Methods are not safe for
// concurrent use; Validate parallelizes internally.
type Corpus struct {
	Root    string
	Project Project

	features []*Feature
	byName   map[string]*Feature

	// Violations found while loading (malformed documents).
	loadReport types.Report

	logger *zap.Logger
	ledger types.Ledger
	engine *delta.Engine
}

// Feature is one loaded feature directory.
type Feature struct {
	Name string
	Dir  string

	Spec    *specdoc.Spec
	Design  []designEntry
	Index   []indexEntry
	Changes []*ChangeDoc
}

// ChangeDoc is a loaded change directory.
type ChangeDoc struct {
	types.Change
	Dir string
}

func (c *ChangeDoc) path(name string) string { return filepath.Join(c.Dir, name) }

func (f *Feature) path(name string) string { return filepath.Join(f.Dir, name) }

// Load reads quire.yaml and every feature under root. Malformed documents
// do not abort loading; they are reported by Validate. I/O failures are
// returned as errors.
func Load(root string, opts Options) (*Corpus, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	project, err := LoadProject(root)
	if err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)
	c := &Corpus{
		Root:    root,
		Project: project,
		byName:  make(map[string]*Feature),
		logger:  logger,
		ledger:  opts.Ledger,
		engine:  delta.NewEngine(logger),
	}

	featuresDir := filepath.Join(root, paths.FeaturesDirName)
	dirents, err := os.ReadDir(featuresDir)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", featuresDir, err)
	}
	for _, de := range dirents {
		if !de.IsDir() || de.Name()[0] == '.' {
			continue
		}
		f, err := c.loadFeature(de.Name(), filepath.Join(featuresDir, de.Name()))
		if err != nil {
			return nil, err
		}
		c.features = append(c.features, f)
		c.byName[f.Name] = f
	}
	logger.Debug("corpus loaded",
		zap.String("root", root),
		zap.Int("features", len(c.features)),
		zap.Int("load_violations", len(c.loadReport.Violations)))
	return c, nil
}

func (c *Corpus) loadFeature(name, dir string) (*Feature, error) {
	f := &Feature{Name: name, Dir: dir, Spec: specdoc.New(name)}

	text, ok, err := readOptional(f.path(specFileName))
	if err != nil {
		return nil, err
	}
	if ok {
		spec, err := specdoc.Parse(name, text)
		if err != nil {
			c.reportLoadError(f.path(specFileName), err)
		} else {
			f.Spec = spec
		}
	}

	if text, ok, err = readOptional(f.path(designFileName)); err != nil {
		return nil, err
	} else if ok {
		var viols []types.Violation
		f.Design, viols = parseDesign(f.path(designFileName), text)
		for _, v := range viols {
			c.loadReport.Add(v)
		}
	}

	if text, ok, err = readOptional(f.path(changesFileName)); err != nil {
		return nil, err
	} else if ok {
		f.Index = parseChangeIndex(text)
	}

	changesDir := f.path(changesDirName)
	dirents, err := os.ReadDir(changesDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", changesDir, err)
	}
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		cd, err := c.loadChange(f, filepath.Join(changesDir, de.Name()))
		if err != nil {
			return nil, err
		}
		if cd != nil {
			f.Changes = append(f.Changes, cd)
		}
	}
	sort.SliceStable(f.Changes, func(i, j int) bool { return f.Changes[i].Number < f.Changes[j].Number })
	return f, nil
}

// loadChange returns nil for a directory without change.yaml.
func (c *Corpus) loadChange(f *Feature, dir string) (*ChangeDoc, error) {
	cd := &ChangeDoc{Dir: dir}
	change, err := readChangeFile(cd.path(changeFileName), f.Name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		var pe *types.ParseError
		if errors.As(err, &pe) {
			c.reportLoadError(cd.path(changeFileName), err)
			return nil, nil
		}
		return nil, err
	}
	cd.Change = change

	text, ok, err := readOptional(cd.path(tasksFileName))
	if err != nil {
		return nil, err
	}
	if ok {
		cd.Tasks = parseTasks(text)
	}

	text, ok, err = readOptional(cd.path(deltaFileName))
	if err != nil {
		return nil, err
	}
	if ok {
		deltas, err := specdoc.ParseDeltas(cd.path(deltaFileName), text)
		if err != nil {
			c.reportLoadError(cd.path(deltaFileName), err)
		} else {
			cd.Deltas = deltas
		}
	}
	return cd, nil
}

func (c *Corpus) reportLoadError(path string, err error) {
	v := types.Violation{Kind: types.KindMalformedDocument, Path: path, Subject: path, Message: err.Error()}
	var pe *types.ParseError
	if errors.As(err, &pe) {
		v.Line = pe.Line
	}
	c.loadReport.Add(v)
}

// Features returns the loaded features sorted by name.
func (c *Corpus) Features() []*Feature {
	return slices.Clone(c.features)
}

// Feature returns the named feature.
func (c *Corpus) Feature(name string) (*Feature, error) {
	f, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrFeatureNotFound)
	}
	return f, nil
}

// Change returns the change of feature whose id, or directory name, is
// changeID.
func (c *Corpus) Change(feature, changeID string) (*Feature, *ChangeDoc, error) {
	f, err := c.Feature(feature)
	if err != nil {
		return nil, nil, err
	}
	for _, cd := range f.Changes {
		if cd.ID == changeID || filepath.Base(cd.Dir) == changeID {
			return f, cd, nil
		}
	}
	return nil, nil, fmt.Errorf("%s/%s: %w", feature, changeID, ErrChangeNotFound)
}

// readOptional returns the file content and false when the file does not
// exist.
func readOptional(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), true, nil
}
