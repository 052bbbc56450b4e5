package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/quire/pkg/types"
)

var _ types.Table = (*changesTable)(nil)

// changesTable stores change metadata keyed by change id. Deltas and tasks
// live in the change's own files and are not stored here.
type changesTable struct {
	backend *Backend
}

const changeColumns = "change_id, feature, number, status, depends_on, implements, batch_accepted, applied_version, created_at, updated_at"

// Get returns the *types.Change with the given id.
func (ct *changesTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	db, err := ct.backend.conn()
	if err != nil {
		return nil, err
	}
	c, err := scanChange(db.QueryRow("SELECT "+changeColumns+" FROM changes WHERE change_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting change %s: %w", id, err)
	}
	return c, nil
}

// Set creates or replaces a *types.Change. The key is id, or c.ID when id
// is empty; the change id must parse as a change-kind identifier.
func (ct *changesTable) Set(id string, data any) (string, error) {
	c, ok := data.(*types.Change)
	if !ok {
		return "", types.ErrInvalidData
	}
	if id == "" {
		id = c.ID
	}
	parsed, err := types.ParseIdentifier(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidID, err)
	}
	if parsed.Kind != types.KindChange {
		return "", fmt.Errorf("%w: %s is not a change identifier", types.ErrInvalidID, id)
	}
	if c.ID != "" && c.ID != id {
		return "", fmt.Errorf("%w: change id %q does not match key %q", types.ErrInvalidData, c.ID, id)
	}
	if c.Feature == "" {
		return "", fmt.Errorf("%w: change %s has no feature", types.ErrInvalidData, id)
	}
	status := c.Status
	if status == "" {
		status = types.StatusNotStarted
	}
	if _, err := types.ParseChangeStatus(string(status)); err != nil {
		return "", err
	}
	c.ID = id
	c.Status = status

	dependsOn, err := json.Marshal(nonNil(c.DependsOn))
	if err != nil {
		return "", fmt.Errorf("marshaling depends_on: %w", err)
	}
	implements, err := json.Marshal(nonNil(c.Implements))
	if err != nil {
		return "", fmt.Errorf("marshaling implements: %w", err)
	}

	ct.backend.writeMu.Lock()
	defer ct.backend.writeMu.Unlock()

	db, err := ct.backend.conn()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if _, err := db.Exec(
		`INSERT INTO changes (`+changeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(change_id) DO UPDATE SET feature = excluded.feature, number = excluded.number,
		 status = excluded.status, depends_on = excluded.depends_on, implements = excluded.implements,
		 batch_accepted = excluded.batch_accepted, applied_version = excluded.applied_version,
		 updated_at = excluded.updated_at`,
		id, c.Feature, c.Number, string(c.Status), string(dependsOn), string(implements),
		c.BatchAccepted, c.AppliedVersion, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	); err != nil {
		return "", fmt.Errorf("persisting change: %w", err)
	}

	if err := ct.persist(db); err != nil {
		return "", fmt.Errorf("persisting %s: %w", changesFile, err)
	}
	return id, nil
}

// Delete removes a change and every link that touches it.
func (ct *changesTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}

	ct.backend.writeMu.Lock()
	defer ct.backend.writeMu.Unlock()

	db, err := ct.backend.conn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM changes WHERE change_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	if _, err := tx.Exec("DELETE FROM links WHERE from_id = ? OR to_id = ?", id, id); err != nil {
		return fmt.Errorf("deleting change links: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing change deletion: %w", err)
	}

	if err := ct.persist(db); err != nil {
		return fmt.Errorf("persisting %s: %w", changesFile, err)
	}
	if err := persistLinks(ct.backend, db); err != nil {
		return fmt.Errorf("persisting %s: %w", linksFile, err)
	}
	return nil
}

// Fetch returns changes ordered by feature and number. Supported filter
// keys: feature (string), status (string).
func (ct *changesTable) Fetch(filter types.Filter) ([]any, error) {
	db, err := ct.backend.conn()
	if err != nil {
		return nil, err
	}
	var (
		conditions []string
		args       []any
	)
	for _, key := range []string{"feature", "status"} {
		v, ok, err := filterString(filter, key)
		if err != nil {
			return nil, err
		}
		if ok {
			conditions = append(conditions, key+" = ?")
			args = append(args, v)
		}
	}
	query := "SELECT " + changeColumns + " FROM changes"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY feature ASC, number ASC, change_id ASC"

	changes, err := queryChanges(db, query, args...)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(changes))
	for i, c := range changes {
		results[i] = c
	}
	return results, nil
}

func (ct *changesTable) persist(db *sql.DB) error {
	changes, err := queryChanges(db, "SELECT "+changeColumns+" FROM changes ORDER BY feature ASC, number ASC, change_id ASC")
	if err != nil {
		return err
	}
	lines := make([]changeJSONLRecord, len(changes))
	for i, c := range changes {
		lines[i] = changeJSONLRecord{
			ChangeID:       c.ID,
			Feature:        c.Feature,
			Number:         c.Number,
			Status:         string(c.Status),
			DependsOn:      nonNil(c.DependsOn),
			Implements:     nonNil(c.Implements),
			BatchAccepted:  c.BatchAccepted,
			AppliedVersion: c.AppliedVersion,
			CreatedAt:      formatTime(c.CreatedAt),
			UpdatedAt:      formatTime(c.UpdatedAt),
		}
	}
	raw, err := marshalJSONL(lines)
	if err != nil {
		return err
	}
	return writeJSONL(ct.backend.dataPath(changesFile), raw)
}

func queryChanges(db *sql.DB, query string, args ...any) ([]*types.Change, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var out []*types.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("hydrating change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChange(row scanner) (*types.Change, error) {
	var (
		c                    types.Change
		status               string
		dependsOn, implement string
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Feature, &c.Number, &status, &dependsOn, &implement,
		&c.BatchAccepted, &c.AppliedVersion, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Status = types.Status(status)
	if err := json.Unmarshal([]byte(dependsOn), &c.DependsOn); err != nil {
		return nil, fmt.Errorf("parsing depends_on: %w", err)
	}
	if err := json.Unmarshal([]byte(implement), &c.Implements); err != nil {
		return nil, fmt.Errorf("parsing implements: %w", err)
	}
	if len(c.DependsOn) == 0 {
		c.DependsOn = nil
	}
	if len(c.Implements) == 0 {
		c.Implements = nil
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// changeJSONLRecord is one line of changes.jsonl.
type changeJSONLRecord struct {
	ChangeID       string   `json:"change_id"`
	Feature        string   `json:"feature"`
	Number         int      `json:"number"`
	Status         string   `json:"status"`
	DependsOn      []string `json:"depends_on"`
	Implements     []string `json:"implements"`
	BatchAccepted  bool     `json:"batch_accepted"`
	AppliedVersion uint64   `json:"applied_version"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}
