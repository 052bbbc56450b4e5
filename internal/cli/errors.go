package cli

import (
	"context"
	"errors"

	"github.com/mesh-intelligence/quire/internal/corpus"
	"github.com/mesh-intelligence/quire/internal/graph"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// errViolations is returned when a validating command found defects. The
// report itself has already been printed.
var errViolations = errors.New("violations found")

// codeError carries the process exit code of a failed command. A quiet
// error has already been reported on stdout.
type codeError struct {
	code  int
	quiet bool
	err   error
}

func (e *codeError) Error() string { return e.err.Error() }

func (e *codeError) Unwrap() error { return e.err }

func userError(err error) error {
	return &codeError{code: exitUserError, err: err}
}

func sysError(err error) error {
	return &codeError{code: exitSysError, err: err}
}

// reported marks a user error whose details were already written.
func reported(err error) error {
	return &codeError{code: exitUserError, quiet: true, err: err}
}

// userErrors are the sentinels caused by the corpus content or the
// arguments rather than by the environment.
var userErrors = []error{
	corpus.ErrFeatureNotFound,
	corpus.ErrChangeNotFound,
	corpus.ErrAlreadyApplied,
	graph.ErrCompletionDenied,
	graph.ErrNodeNotFound,
	types.ErrInvalidTransition,
	types.ErrEmptyBatch,
	types.ErrStaleVersion,
	types.ErrInvalidStatus,
	types.ErrNotFound,
	context.Canceled,
}

// classify wraps err with its exit code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *codeError
	if errors.As(err, &ce) {
		return err
	}
	var (
		pe *types.ParseError
		cf *types.ConflictError
	)
	if errors.As(err, &pe) || errors.As(err, &cf) {
		return userError(err)
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return userError(err)
		}
	}
	return sysError(err)
}

// exitCodeOf returns the exit code for an error returned by a command.
// Errors from cobra itself, such as unknown flags, are user errors.
func exitCodeOf(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitUserError
}
