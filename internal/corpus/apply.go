package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/quire/internal/graph"
	"github.com/mesh-intelligence/quire/internal/trace"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// ApplyResult describes an accepted delta batch.
type ApplyResult struct {
	Feature  string `json:"feature"`
	ChangeID string `json:"change_id"`
	Applied  int    `json:"applied"`
	Version  uint64 `json:"version"`
}

// Apply runs the change's delta batch against the feature spec. On
// success the new spec, change.yaml and CHANGES.md are written and the
// version is recorded in the ledger. A rejected batch writes nothing and
// returns the engine's *types.ConflictError. If the change record cannot
// be written, spec.md and change.yaml are put back as they were.
func (c *Corpus) Apply(ctx context.Context, feature, changeID string) (*ApplyResult, error) {
	f, cd, err := c.Change(feature, changeID)
	if err != nil {
		return nil, err
	}
	if cd.BatchAccepted {
		return nil, fmt.Errorf("%s: %w", cd.ID, ErrAlreadyApplied)
	}

	change := cd.Change
	if err := change.Begin(); err != nil {
		return nil, fmt.Errorf("%s: %w", cd.ID, err)
	}
	next, applied, err := c.engine.Apply(change.ID, f.Spec, change.Deltas)
	if err != nil {
		return nil, err
	}
	if err := change.Accept(next.Version); err != nil {
		return nil, fmt.Errorf("%s: %w", cd.ID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := snapshot(f.path(specFileName), cd.path(changeFileName))
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(f.path(specFileName), []byte(next.Serialize())); err != nil {
		return nil, err
	}
	if err := c.saveChange(f, cd, change); err != nil {
		if rerr := snap.restore(); rerr != nil {
			c.logger.Error("restoring after failed apply", zap.String("change", cd.ID), zap.Error(rerr))
		}
		return nil, err
	}
	f.Spec = next
	if err := c.record(f, cd, true); err != nil {
		return nil, err
	}

	c.logger.Info("change applied",
		zap.String("feature", f.Name),
		zap.String("change", cd.ID),
		zap.Uint64("version", next.Version))
	return &ApplyResult{Feature: f.Name, ChangeID: cd.ID, Applied: applied, Version: next.Version}, nil
}

// Complete moves a change to COMPLETED after the graph gate passes: its
// dependencies are completed, its tasks are checked, its batch was
// accepted and the requirements it implements are covered. A refusal is a
// *graph.BlockedError.
func (c *Corpus) Complete(ctx context.Context, feature, changeID string) error {
	f, cd, err := c.Change(feature, changeID)
	if err != nil {
		return err
	}
	res, err := c.Validate(ctx)
	if err != nil {
		return err
	}
	if err := graph.CanComplete(c.graphInput(res), cd.ID); err != nil {
		return err
	}

	change := cd.Change
	if err := change.Complete(); err != nil {
		return fmt.Errorf("%s: %w", cd.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.saveChange(f, cd, change); err != nil {
		return err
	}
	if err := c.record(f, cd, false); err != nil {
		return err
	}
	c.logger.Info("change completed", zap.String("feature", f.Name), zap.String("change", cd.ID))
	return nil
}

// StatusUpdate is one requirement status rewritten by SyncStatus.
type StatusUpdate struct {
	Feature     string       `json:"feature"`
	Requirement string       `json:"requirement"`
	ID          string       `json:"id"`
	From        types.Status `json:"from"`
	To          types.Status `json:"to"`
}

// SyncStatus sets every identified requirement's status to the status its
// coverage supports, in spec.md and in design.md status lines. The spec
// version does not change: status is derived data, not a delta.
func (c *Corpus) SyncStatus(ctx context.Context) ([]StatusUpdate, error) {
	res, err := c.Validate(ctx)
	if err != nil {
		return nil, err
	}

	var updates []StatusUpdate
	for _, f := range c.features {
		cov := res.Coverage[f.Name]
		next := f.Spec.Clone()
		var featureUpdates []StatusUpdate
		for _, r := range next.Requirements() {
			if r.ID == "" {
				continue
			}
			id, err := types.ParseIdentifier(r.ID)
			if err != nil {
				continue
			}
			ic, ok := cov.Lookup(id)
			if !ok {
				continue
			}
			want := trace.DeriveStatus(ic)
			if want == r.Status {
				continue
			}
			featureUpdates = append(featureUpdates, StatusUpdate{
				Feature: f.Name, Requirement: r.Name, ID: id.Base().String(), From: r.Status, To: want,
			})
			r.Status = want
			next.Put(r)
		}
		if len(featureUpdates) == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return updates, err
		}
		if err := writeFileAtomic(f.path(specFileName), []byte(next.Serialize())); err != nil {
			return updates, err
		}
		f.Spec = next
		if err := c.syncDesign(f, featureUpdates); err != nil {
			return updates, err
		}
		updates = append(updates, featureUpdates...)
	}
	c.logger.Info("statuses synchronized", zap.Int("updated", len(updates)))
	return updates, nil
}

func (c *Corpus) syncDesign(f *Feature, updates []StatusUpdate) error {
	text, ok, err := readOptional(f.path(designFileName))
	if err != nil || !ok {
		return err
	}
	dirty := false
	for _, u := range updates {
		var changed bool
		text, changed = setDesignStatus(text, u.ID, u.To)
		dirty = dirty || changed
	}
	if !dirty {
		return nil
	}
	if err := writeFileAtomic(f.path(designFileName), []byte(text)); err != nil {
		return err
	}
	f.Design, _ = parseDesign(f.path(designFileName), text)
	return nil
}

// saveChange writes change.yaml and the CHANGES.md marker, then updates
// the loaded state.
func (c *Corpus) saveChange(f *Feature, cd *ChangeDoc, change types.Change) error {
	if err := writeChangeFile(cd.path(changeFileName), change); err != nil {
		return err
	}
	text, _, err := readOptional(f.path(changesFileName))
	if err != nil {
		return err
	}
	if text == "" {
		text = fmt.Sprintf("# Changes: %s\n", f.Name)
	}
	text = setIndexStatus(text, change.ID, change.Status)
	if err := writeFileAtomic(f.path(changesFileName), []byte(text)); err != nil {
		return err
	}
	cd.Change = change
	f.Index = parseChangeIndex(text)
	return nil
}

// record mirrors the change, its links and optionally the current spec
// version into the ledger.
func (c *Corpus) record(f *Feature, cd *ChangeDoc, withSpec bool) error {
	if c.ledger == nil {
		return nil
	}
	if withSpec {
		specs, err := c.ledger.GetTable(types.SpecsTable)
		if err != nil {
			return err
		}
		if _, err := specs.Set(f.Name, &types.SpecRecord{
			Name:     f.Name,
			Version:  f.Spec.Version,
			Body:     f.Spec.Serialize(),
			ChangeID: cd.ID,
		}); err != nil {
			return fmt.Errorf("recording %s v%d: %w", f.Name, f.Spec.Version, err)
		}
	}

	changes, err := c.ledger.GetTable(types.ChangesTable)
	if err != nil {
		return err
	}
	stored := cd.Change
	if _, err := changes.Set(cd.ID, &stored); err != nil {
		return fmt.Errorf("recording change %s: %w", cd.ID, err)
	}

	links, err := c.ledger.GetTable(types.LinksTable)
	if err != nil {
		return err
	}
	edges := []*types.Link{{LinkType: types.LinkImplements, FromID: cd.ID, ToID: f.Name}}
	for _, dep := range cd.DependsOn {
		edges = append(edges, &types.Link{LinkType: types.LinkDependsOn, FromID: cd.ID, ToID: dep})
	}
	for _, l := range edges {
		if _, err := links.Set("", l); err != nil && !errors.Is(err, types.ErrDuplicateName) {
			return fmt.Errorf("recording link %s -> %s: %w", l.FromID, l.ToID, err)
		}
	}
	return nil
}

// fileSnapshot holds file contents to put back after a failed multi-file
// write.
type fileSnapshot []savedFile

type savedFile struct {
	path   string
	data   string
	exists bool
}

func snapshot(paths ...string) (fileSnapshot, error) {
	snap := make(fileSnapshot, 0, len(paths))
	for _, path := range paths {
		data, ok, err := readOptional(path)
		if err != nil {
			return nil, err
		}
		snap = append(snap, savedFile{path: path, data: data, exists: ok})
	}
	return snap, nil
}

func (s fileSnapshot) restore() error {
	var errs []error
	for _, f := range s {
		if !f.exists {
			if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if err := writeFileAtomic(f.path, []byte(f.data)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
