package types

import (
	"errors"
	"fmt"
)

// Operation is the kind of mutation a Delta performs.
type Operation string

// Delta operations, in the spelling used by delta document section headers.
const (
	OpAdded    Operation = "ADDED"
	OpModified Operation = "MODIFIED"
	OpRemoved  Operation = "REMOVED"
	OpRenamed  Operation = "RENAMED"
)

// ValidOperation reports whether op is one of the four delta operations.
func ValidOperation(op Operation) bool {
	switch op {
	case OpAdded, OpModified, OpRemoved, OpRenamed:
		return true
	}
	return false
}

// Delta engine errors.
var (
	ErrDuplicateRequirement = errors.New("requirement already exists")
	ErrUnknownRequirement   = errors.New("requirement does not exist")
	ErrInvalidDelta         = errors.New("invalid delta")
	ErrEmptyBatch           = errors.New("delta batch is empty")
)

// Delta is one typed mutation targeting a requirement by name.
type Delta struct {
	Operation Operation    `json:"operation"`
	Target    string       `json:"target"`
	NewName   string       `json:"new_name,omitempty"` // RENAMED only
	Payload   *Requirement `json:"payload,omitempty"`  // ADDED and MODIFIED only
}

// Validate checks that the delta is well formed for its operation. It does
// not look at any store; conflicts are the engine's concern.
func (d Delta) Validate() error {
	if !ValidOperation(d.Operation) {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidDelta, d.Operation)
	}
	if d.Target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidDelta)
	}
	switch d.Operation {
	case OpAdded, OpModified:
		if d.Payload == nil {
			return fmt.Errorf("%w: %s %q has no payload", ErrInvalidDelta, d.Operation, d.Target)
		}
		if d.Payload.Name != d.Target {
			return fmt.Errorf("%w: payload name %q does not match target %q", ErrInvalidDelta, d.Payload.Name, d.Target)
		}
		if err := d.Payload.Validate(); err != nil {
			return err
		}
	case OpRenamed:
		if d.NewName == "" {
			return fmt.Errorf("%w: RENAMED %q has no new name", ErrInvalidDelta, d.Target)
		}
		if err := ValidName(d.NewName); err != nil {
			return fmt.Errorf("%w: RENAMED %q: %v", ErrInvalidDelta, d.Target, err)
		}
	}
	return nil
}

func (d Delta) String() string {
	if d.Operation == OpRenamed {
		return fmt.Sprintf("%s %s -> %s", d.Operation, d.Target, d.NewName)
	}
	return fmt.Sprintf("%s %s", d.Operation, d.Target)
}

// ConflictError reports a rejected delta batch. Index is the position of the
// failing delta within the batch. The store the batch was applied to is left
// unchanged.
type ConflictError struct {
	Index int
	Delta Delta
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("delta %d (%s): %v", e.Index, e.Delta, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }
