package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

var _ types.Table = (*specHistoryTable)(nil)

// specHistoryTable exposes the append-only version history of specs. Rows
// are written by specsTable.Set; direct writes are rejected.
type specHistoryTable struct {
	backend *Backend
}

const historyColumns = "history_id, name, version, body, change_id, created_at"

// Get returns the *types.SpecHistoryEntry with the given history id.
func (ht *specHistoryTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	db, err := ht.backend.conn()
	if err != nil {
		return nil, err
	}
	e, err := scanHistory(db.QueryRow("SELECT "+historyColumns+" FROM spec_history WHERE history_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting history entry %s: %w", id, err)
	}
	return e, nil
}

// Set is not supported.
func (ht *specHistoryTable) Set(string, any) (string, error) {
	return "", types.ErrReadOnlyTable
}

// Delete is not supported.
func (ht *specHistoryTable) Delete(string) error {
	return types.ErrReadOnlyTable
}

// Fetch returns history entries ordered by name, then version ascending.
// Supported filter keys: name (string), change_id (string), limit (int).
func (ht *specHistoryTable) Fetch(filter types.Filter) ([]any, error) {
	db, err := ht.backend.conn()
	if err != nil {
		return nil, err
	}
	var (
		conditions []string
		args       []any
	)
	for _, key := range []string{"name", "change_id"} {
		v, ok, err := filterString(filter, key)
		if err != nil {
			return nil, err
		}
		if ok {
			conditions = append(conditions, key+" = ?")
			args = append(args, v)
		}
	}
	query := "SELECT " + historyColumns + " FROM spec_history"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name ASC, version ASC"
	if v, ok := filter["limit"]; ok {
		limit, ok := v.(int)
		if !ok {
			return nil, fmt.Errorf("limit: %w", types.ErrInvalidFilter)
		}
		if limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", limit)
		}
	}

	entries, err := queryHistory(db, query, args...)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(entries))
	for i, e := range entries {
		results[i] = e
	}
	return results, nil
}

func queryHistory(db *sql.DB, query string, args ...any) ([]*types.SpecHistoryEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying spec history: %w", err)
	}
	defer rows.Close()

	var out []*types.SpecHistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("hydrating history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanHistory(row scanner) (*types.SpecHistoryEntry, error) {
	var (
		e         types.SpecHistoryEntry
		changeID  sql.NullString
		createdAt string
	)
	if err := row.Scan(&e.HistoryID, &e.Name, &e.Version, &e.Body, &changeID, &createdAt); err != nil {
		return nil, err
	}
	e.ChangeID = changeID.String
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return &e, nil
}

// persistHistory rewrites spec_history.jsonl from SQLite.
func persistHistory(b *Backend, db *sql.DB) error {
	entries, err := queryHistory(db, "SELECT "+historyColumns+" FROM spec_history ORDER BY name ASC, version ASC")
	if err != nil {
		return err
	}
	lines := make([]historyJSONLRecord, len(entries))
	for i, e := range entries {
		lines[i] = historyRecord(*e)
	}
	raw, err := marshalJSONL(lines)
	if err != nil {
		return err
	}
	return writeJSONL(b.dataPath(specHistoryFile), raw)
}

// historyJSONLRecord is one line of spec_history.jsonl.
type historyJSONLRecord struct {
	HistoryID string `json:"history_id"`
	Name      string `json:"name"`
	Version   uint64 `json:"version"`
	Body      string `json:"body"`
	ChangeID  string `json:"change_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

func historyRecord(e types.SpecHistoryEntry) historyJSONLRecord {
	return historyJSONLRecord{
		HistoryID: e.HistoryID,
		Name:      e.Name,
		Version:   e.Version,
		Body:      e.Body,
		ChangeID:  e.ChangeID,
		CreatedAt: formatTime(e.CreatedAt),
	}
}
