// Package delta applies batches of requirement deltas to a spec.
//
// A batch is applied strictly in declaration order against a deep clone of
// the input spec. Any failing delta aborts the whole batch and the input is
// returned untouched, so a rejected batch can be fixed and retried.
package delta

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/quire/internal/specdoc"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// ErrNilSpec is returned when a batch is applied to a nil spec.
var ErrNilSpec = errors.New("delta batch applied to nil spec")

// ApplyBatch applies deltas to spec. On success it returns a new spec whose
// version is spec.Version+1 and the number of deltas applied. On failure it
// returns spec itself, zero, and a *types.ConflictError identifying the
// first failing delta.
func ApplyBatch(spec *specdoc.Spec, deltas []types.Delta) (*specdoc.Spec, int, error) {
	if spec == nil {
		return nil, 0, ErrNilSpec
	}
	if len(deltas) == 0 {
		return spec, 0, types.ErrEmptyBatch
	}

	next := spec.Clone()
	for i, d := range deltas {
		if err := apply(next, d); err != nil {
			return spec, 0, &types.ConflictError{Index: i, Delta: d, Err: err}
		}
	}
	next.Version = spec.Version + 1
	return next, len(deltas), nil
}

func apply(s *specdoc.Spec, d types.Delta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	switch d.Operation {
	case types.OpAdded:
		if s.Has(d.Target) {
			return types.ErrDuplicateRequirement
		}
		s.Put(*d.Payload)
	case types.OpModified:
		if !s.Has(d.Target) {
			return types.ErrUnknownRequirement
		}
		// Full replacement: the payload is the complete new requirement.
		s.Put(*d.Payload)
	case types.OpRemoved:
		if !s.Remove(d.Target) {
			return types.ErrUnknownRequirement
		}
	case types.OpRenamed:
		return s.Rename(d.Target, d.NewName)
	default:
		return fmt.Errorf("%w: %s", types.ErrInvalidDelta, d.Operation)
	}
	return nil
}

// Engine wraps ApplyBatch with logging for callers that apply batches on
// behalf of a change.
type Engine struct {
	logger *zap.Logger
}

// NewEngine returns an Engine. A nil logger discards output.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Apply applies deltas to spec on behalf of changeID. See ApplyBatch.
func (e *Engine) Apply(changeID string, spec *specdoc.Spec, deltas []types.Delta) (*specdoc.Spec, int, error) {
	next, n, err := ApplyBatch(spec, deltas)
	if errors.Is(err, ErrNilSpec) {
		return nil, 0, fmt.Errorf("change %s: %w", changeID, err)
	}
	if err != nil {
		e.logger.Warn("delta batch rejected",
			zap.String("change", changeID),
			zap.String("spec", spec.Name),
			zap.Uint64("version", spec.Version),
			zap.Error(err))
		return next, n, err
	}
	e.logger.Info("delta batch applied",
		zap.String("change", changeID),
		zap.String("spec", spec.Name),
		zap.Uint64("from_version", spec.Version),
		zap.Uint64("to_version", next.Version),
		zap.Int("deltas", n))
	return next, n, nil
}
