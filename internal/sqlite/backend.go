// Package sqlite implements the ledger storage backend: JSONL files in
// DataDir are the source of truth and SQLite is the query engine, rebuilt
// from the files on every Attach.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// dbFile is the SQLite cache file inside DataDir.
const dbFile = "ledger.db"

// timeLayout is the on-disk timestamp format.
const timeLayout = time.RFC3339Nano

var _ types.Ledger = (*Backend)(nil)

// Backend implements types.Ledger on SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	tables   map[string]types.Table

	// writeMu serializes mutations so that each SQLite write and the JSONL
	// rewrite that follows it happen as one step.
	writeMu sync.Mutex
}

// NewBackend returns a detached backend. Call Attach before use.
func NewBackend() *Backend {
	return &Backend{tables: make(map[string]types.Table)}
}

// GetTable returns the table accessor for name.
func (b *Backend) GetTable(name string) (types.Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrLedgerDetached
	}
	t, ok := b.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, types.ErrTableNotFound)
	}
	return t, nil
}

// Attach creates DataDir if needed, builds a fresh SQLite schema, creates
// missing JSONL files and loads every JSONL file into SQLite.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	config.DataDir = dataDir

	// The database is a cache of the JSONL files; start from scratch.
	dbPath := filepath.Join(dataDir, dbFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.attached = true
	b.tables = map[string]types.Table{
		types.SpecsTable:       &specsTable{backend: b},
		types.SpecHistoryTable: &specHistoryTable{backend: b},
		types.ChangesTable:     &changesTable{backend: b},
		types.LinksTable:       &linksTable{backend: b},
	}
	return nil
}

// Detach closes the database. It is idempotent; afterwards GetTable returns
// ErrLedgerDetached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.tables = make(map[string]types.Table)
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		if err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
	}
	return nil
}

// conn returns the open database, or ErrLedgerDetached after Detach.
func (b *Backend) conn() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrLedgerDetached
	}
	return b.db, nil
}

// dataPath returns the path of a JSONL file in DataDir.
func (b *Backend) dataPath(file string) string {
	return filepath.Join(b.config.DataDir, file)
}

// newID returns a UUID v7, falling back to v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// filterString extracts an optional string filter value.
func filterString(f types.Filter, key string) (string, bool, error) {
	v, ok := f[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%s: %w", key, types.ErrInvalidFilter)
	}
	return s, true, nil
}
