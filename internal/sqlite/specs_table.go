package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/quire/pkg/types"
)

var _ types.Table = (*specsTable)(nil)

// specsTable stores the current version of each feature spec, keyed by
// feature name. Every accepted version is also appended to spec_history.
type specsTable struct {
	backend *Backend
}

const specColumns = "name, version, body, change_id, updated_at"

// Get returns the *types.SpecRecord stored under name.
func (st *specsTable) Get(name string) (any, error) {
	if name == "" {
		return nil, types.ErrInvalidID
	}
	db, err := st.backend.conn()
	if err != nil {
		return nil, err
	}
	rec, err := scanSpec(db.QueryRow("SELECT "+specColumns+" FROM specs WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting spec %s: %w", name, err)
	}
	return rec, nil
}

// Set stores a *types.SpecRecord. The key is name, or rec.Name when name is
// empty. The version must be greater than the stored version; the first
// record of a spec may have any version. Each stored version is appended to
// spec history.
func (st *specsTable) Set(name string, data any) (string, error) {
	rec, ok := data.(*types.SpecRecord)
	if !ok {
		return "", types.ErrInvalidData
	}
	if name == "" {
		name = rec.Name
	}
	if name == "" {
		return "", types.ErrInvalidName
	}
	if rec.Name != "" && rec.Name != name {
		return "", fmt.Errorf("%w: record name %q does not match key %q", types.ErrInvalidData, rec.Name, name)
	}
	rec.Name = name

	st.backend.writeMu.Lock()
	defer st.backend.writeMu.Unlock()

	db, err := st.backend.conn()
	if err != nil {
		return "", err
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var stored uint64
	err = tx.QueryRow("SELECT version FROM specs WHERE name = ?", name).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", fmt.Errorf("checking stored version: %w", err)
	case rec.Version <= stored:
		return "", fmt.Errorf("%s: version %d, stored %d: %w", name, rec.Version, stored, types.ErrStaleVersion)
	}

	now := time.Now().UTC()
	rec.UpdatedAt = now
	if _, err := tx.Exec(
		`INSERT INTO specs (`+specColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version = excluded.version, body = excluded.body,
		 change_id = excluded.change_id, updated_at = excluded.updated_at`,
		name, rec.Version, rec.Body, nullString(rec.ChangeID), formatTime(now),
	); err != nil {
		return "", fmt.Errorf("persisting spec: %w", err)
	}

	hist := types.SpecHistoryEntry{
		HistoryID: newID(),
		Name:      name,
		Version:   rec.Version,
		Body:      rec.Body,
		ChangeID:  rec.ChangeID,
		CreatedAt: now,
	}
	if _, err := tx.Exec(
		"INSERT INTO spec_history (history_id, name, version, body, change_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		hist.HistoryID, hist.Name, hist.Version, hist.Body, nullString(hist.ChangeID), formatTime(now),
	); err != nil {
		return "", fmt.Errorf("recording spec history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing spec: %w", err)
	}

	if err := st.persist(db); err != nil {
		return "", fmt.Errorf("persisting %s: %w", specsFile, err)
	}
	if err := appendJSONL(st.backend.dataPath(specHistoryFile), historyRecord(hist)); err != nil {
		return "", fmt.Errorf("appending %s: %w", specHistoryFile, err)
	}
	return name, nil
}

// Delete removes a spec and its history.
func (st *specsTable) Delete(name string) error {
	if name == "" {
		return types.ErrInvalidID
	}

	st.backend.writeMu.Lock()
	defer st.backend.writeMu.Unlock()

	db, err := st.backend.conn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM specs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting spec: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	if _, err := tx.Exec("DELETE FROM spec_history WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting spec history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing spec deletion: %w", err)
	}

	if err := st.persist(db); err != nil {
		return fmt.Errorf("persisting %s: %w", specsFile, err)
	}
	if err := persistHistory(st.backend, db); err != nil {
		return fmt.Errorf("persisting %s: %w", specHistoryFile, err)
	}
	return nil
}

// Fetch returns specs ordered by name. Supported filter keys: name.
func (st *specsTable) Fetch(filter types.Filter) ([]any, error) {
	db, err := st.backend.conn()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + specColumns + " FROM specs"
	var args []any
	name, ok, err := filterString(filter, "name")
	if err != nil {
		return nil, err
	}
	if ok {
		query += " WHERE name = ?"
		args = append(args, name)
	}
	query += " ORDER BY name ASC"

	recs, err := querySpecs(db, query, args...)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(recs))
	for i, r := range recs {
		results[i] = r
	}
	return results, nil
}

func (st *specsTable) persist(db *sql.DB) error {
	recs, err := querySpecs(db, "SELECT "+specColumns+" FROM specs ORDER BY name ASC")
	if err != nil {
		return err
	}
	lines := make([]specJSONLRecord, len(recs))
	for i, r := range recs {
		lines[i] = specJSONLRecord{
			Name:      r.Name,
			Version:   r.Version,
			Body:      r.Body,
			ChangeID:  r.ChangeID,
			UpdatedAt: formatTime(r.UpdatedAt),
		}
	}
	raw, err := marshalJSONL(lines)
	if err != nil {
		return err
	}
	return writeJSONL(st.backend.dataPath(specsFile), raw)
}

func querySpecs(db *sql.DB, query string, args ...any) ([]*types.SpecRecord, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying specs: %w", err)
	}
	defer rows.Close()

	var out []*types.SpecRecord
	for rows.Next() {
		rec, err := scanSpec(rows)
		if err != nil {
			return nil, fmt.Errorf("hydrating spec: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSpec(row scanner) (*types.SpecRecord, error) {
	var (
		rec       types.SpecRecord
		changeID  sql.NullString
		updatedAt string
	)
	if err := row.Scan(&rec.Name, &rec.Version, &rec.Body, &changeID, &updatedAt); err != nil {
		return nil, err
	}
	rec.ChangeID = changeID.String
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	rec.UpdatedAt = t
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// specJSONLRecord is one line of specs.jsonl.
type specJSONLRecord struct {
	Name      string `json:"name"`
	Version   uint64 `json:"version"`
	Body      string `json:"body"`
	ChangeID  string `json:"change_id,omitempty"`
	UpdatedAt string `json:"updated_at"`
}
