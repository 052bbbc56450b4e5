package corpus

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/quire/internal/graph"
	"github.com/mesh-intelligence/quire/internal/registry"
	"github.com/mesh-intelligence/quire/internal/trace"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// binarySniffLen is how much of a file is checked for NUL bytes before it
// is treated as binary and skipped.
const binarySniffLen = 8000

// Result is the outcome of Validate.
type Result struct {
	types.Report

	// Coverage holds the traceability report of each feature.
	Coverage map[string]*trace.Report `json:"coverage"`

	// FilesScanned counts the source files searched for tags.
	FilesScanned int `json:"files_scanned"`
}

// MissingPhases dispatches to the coverage of the feature named by the
// identifier's scope name.
func (r *Result) MissingPhases(id string) ([]uint, bool) {
	parsed, err := types.ParseIdentifier(id)
	if err != nil {
		return nil, false
	}
	cov, ok := r.Coverage[parsed.ScopeName]
	if !ok {
		return nil, false
	}
	return cov.MissingPhases(id)
}

// Validate checks the whole corpus: malformed documents, identifier
// uniqueness across features, traceability coverage per feature and the
// artifact graph. Features are processed concurrently. The returned error
// is reserved for I/O failures and cancellation; defects are in the
// report.
func (c *Corpus) Validate(ctx context.Context) (*Result, error) {
	res := &Result{Coverage: make(map[string]*trace.Report, len(c.features))}
	res.Merge(c.loadReport)

	files, err := c.sourceFiles()
	if err != nil {
		return nil, err
	}
	occs, scanReport, err := c.scanFiles(ctx, files)
	if err != nil {
		return nil, err
	}
	res.FilesScanned = len(files)
	res.Merge(scanReport)

	byFeature, orphans := c.partition(occs)

	// Registration runs in feature order so that the first feature by name
	// owns a contested identifier.
	reg := registry.New()
	for _, f := range c.features {
		res.Merge(registerFeature(reg, f))
	}

	reports := make([]*trace.Report, len(c.features))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Project.Workers)
	for i, f := range c.features {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = trace.ComputeCoverage(c.declarations(f), byFeature[f.Name])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, f := range c.features {
		res.Coverage[f.Name] = reports[i]
		res.Merge(reports[i].Report)
	}
	if len(orphans) > 0 {
		res.Merge(trace.ComputeCoverage(nil, orphans).Report)
	}

	res.Merge(graph.Validate(c.graphInput(res)))
	res.Sort()

	c.logger.Info("corpus validated",
		zap.Int("features", len(c.features)),
		zap.Int("files", res.FilesScanned),
		zap.Int("registered", reg.Len()),
		zap.Int("violations", len(res.Violations)))
	return res, nil
}

// registerFeature claims every identifier the feature declares. Claims of
// an entity already owned by another feature are reported.
func registerFeature(reg *registry.Registry, f *Feature) types.Report {
	var rep types.Report
	claim := func(id types.Identifier, path string, line int) {
		if err := reg.Register(id, f.Name); err != nil {
			rep.Add(types.Violation{
				Kind:    types.KindDuplicateIdentifier,
				Subject: id.Base().String(),
				Path:    path,
				Line:    line,
				Message: err.Error(),
			})
		}
	}
	for _, r := range f.Spec.Requirements() {
		if r.ID == "" {
			continue
		}
		if id, err := types.ParseIdentifier(r.ID); err == nil {
			claim(id, f.path(specFileName), 0)
		}
	}
	for _, d := range f.Design {
		claim(d.ID, f.path(designFileName), d.Line)
	}
	return rep
}

// declarations merges design.md entries and spec requirements. Spec status
// wins over design status.
func (c *Corpus) declarations(f *Feature) []trace.Declaration {
	var set trace.DeclarationSet
	for _, d := range f.Design {
		set.Declare(d.ID, d.Status, f.path(designFileName), d.Line)
	}
	for _, r := range f.Spec.Requirements() {
		// Parse failures were rejected by specdoc.Parse.
		_ = set.DeclareRequirement(r, f.path(specFileName))
	}
	return set.List()
}

// sourceFiles expands the project's source patterns relative to the root,
// minus exclusions. Paths are slash-separated and sorted.
func (c *Corpus) sourceFiles() ([]string, error) {
	fsys := os.DirFS(c.Root)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range c.Project.Sources {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("source pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || c.excluded(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	slices.Sort(files)
	return files, nil
}

func (c *Corpus) excluded(path string) bool {
	for _, pattern := range c.Project.Exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// scanFiles reads and scans files with at most Project.Workers goroutines.
// Occurrences are returned in file order.
func (c *Corpus) scanFiles(ctx context.Context, files []string) ([]types.TagOccurrence, types.Report, error) {
	occs := make([][]types.TagOccurrence, len(files))
	viols := make([][]types.Violation, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Project.Workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(c.Root, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			if bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0 {
				return nil
			}
			occs[i], viols[i] = trace.Scan(rel, string(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.Report{}, err
	}

	var (
		all []types.TagOccurrence
		rep types.Report
	)
	for i := range files {
		all = append(all, occs[i]...)
		for _, v := range viols[i] {
			rep.Add(v)
		}
	}
	return all, rep, nil
}

// partition routes occurrences to the feature named by their scope name.
// Occurrences of other projects are dropped; occurrences naming no loaded
// feature are returned as orphans. A dropped or rerouted occurrence's
// ContentBefore is carried to the next occurrence of the same file in each
// bucket, so block content stays exact after the split.
func (c *Corpus) partition(occs []types.TagOccurrence) (map[string][]types.TagOccurrence, []types.TagOccurrence) {
	const orphanKey = "\x00orphan"
	buckets := make(map[string][]types.TagOccurrence)
	last := make(map[string]int) // bucket -> content seen at its previous occurrence

	var (
		file string
		seen int // content lines seen so far in file
	)
	for _, o := range occs {
		if o.FilePath != file {
			file, seen = o.FilePath, 0
			clear(last)
		}
		seen += o.ContentBefore

		var key string
		switch {
		case c.Project.Name != "" && o.Identifier.Project != c.Project.Name:
			continue
		case c.byName[o.Identifier.ScopeName] != nil:
			key = o.Identifier.ScopeName
		default:
			key = orphanKey
		}
		o.ContentBefore = seen - last[key]
		last[key] = seen
		buckets[key] = append(buckets[key], o)
	}

	orphans := buckets[orphanKey]
	delete(buckets, orphanKey)
	return buckets, orphans
}

// graphInput builds the artifact graph: feature and change nodes, their
// depends_on and implements edges, and the status each artifact records.
func (c *Corpus) graphInput(coverage graph.CoverageOracle) graph.Input {
	in := graph.Input{Coverage: coverage}
	for _, f := range c.features {
		in.Nodes = append(in.Nodes, graph.Node{ID: f.Name, Kind: graph.NodeFeature, Path: f.Dir})

		for _, cd := range f.Changes {
			in.Nodes = append(in.Nodes, graph.ChangeNode(cd.Change, cd.path(changeFileName)))
			for _, dep := range cd.DependsOn {
				in.Edges = append(in.Edges, graph.Edge{From: cd.ID, To: dep, Type: types.LinkDependsOn})
			}
			in.Edges = append(in.Edges, graph.Edge{From: cd.ID, To: f.Name, Type: types.LinkImplements})
			in.StatusRecords = append(in.StatusRecords, graph.StatusRecord{
				Entity: cd.ID, Artifact: cd.path(changeFileName), Value: string(cd.Status),
			})
		}
		for _, e := range f.Index {
			in.StatusRecords = append(in.StatusRecords, graph.StatusRecord{
				Entity: e.ID, Artifact: f.path(changesFileName), Value: e.Status,
			})
		}

		reqStatus := make(map[string]types.Status)
		for _, r := range f.Spec.Requirements() {
			if id, err := types.ParseIdentifier(r.ID); err == nil {
				reqStatus[id.Base().String()] = r.Status
			}
		}
		for _, d := range f.Design {
			if d.Status == "" {
				continue
			}
			base := d.ID.Base().String()
			specStatus, ok := reqStatus[base]
			if !ok {
				continue
			}
			in.StatusRecords = append(in.StatusRecords,
				graph.StatusRecord{Entity: base, Artifact: f.path(specFileName), Value: string(specStatus)},
				graph.StatusRecord{Entity: base, Artifact: f.path(designFileName), Value: string(d.Status)},
			)
		}
	}
	return in
}
