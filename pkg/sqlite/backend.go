// Package sqlite exposes the SQLite ledger backend while keeping its
// implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/quire/internal/sqlite"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// NewBackend returns a detached SQLite ledger. Call Attach before use:
//
//	ledger := sqlite.NewBackend()
//	err := ledger.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".quire-db",
//	})
//	defer ledger.Detach()
func NewBackend() types.Ledger {
	return sqlite.NewBackend()
}
