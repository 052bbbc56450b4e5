package types

import "errors"

// Ledger defines the interface for backend-agnostic storage of specs,
// spec history, changes and links. Callers attach to a backend, access
// tables by name, and detach when done.
type Ledger interface {
	// GetTable returns the Table for the given name.
	// Returns ErrTableNotFound if the name is not a standard table.
	GetTable(name string) (Table, error)

	// Attach connects the Ledger to the backend described by config.
	// Creates the DataDir if it does not exist. Returns ErrAlreadyAttached
	// if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, GetTable returns ErrLedgerDetached.
	Detach() error
}

// Ledger lifecycle errors.
var (
	ErrLedgerDetached  = errors.New("ledger is detached")
	ErrAlreadyAttached = errors.New("ledger is already attached")
	ErrTableNotFound   = errors.New("table not found")
)
