package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/quire/pkg/types"
)

var _ types.Table = (*linksTable)(nil)

// linksTable stores the depends_on and implements edges of the artifact
// graph. (link_type, from_id, to_id) is unique.
type linksTable struct {
	backend *Backend
}

const linkColumns = "link_id, link_type, from_id, to_id, created_at"

// Get returns the *types.Link with the given id.
func (lt *linksTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	db, err := lt.backend.conn()
	if err != nil {
		return nil, err
	}
	l, err := scanLink(db.QueryRow("SELECT "+linkColumns+" FROM links WHERE link_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting link %s: %w", id, err)
	}
	return l, nil
}

// Set persists a *types.Link. An empty id creates the link with a UUID v7.
// A second link with the same type and endpoints returns ErrDuplicateName.
func (lt *linksTable) Set(id string, data any) (string, error) {
	link, ok := data.(*types.Link)
	if !ok {
		return "", types.ErrInvalidData
	}
	if !types.ValidLinkType(link.LinkType) || link.FromID == "" || link.ToID == "" {
		return "", types.ErrInvalidData
	}

	lt.backend.writeMu.Lock()
	defer lt.backend.writeMu.Unlock()

	db, err := lt.backend.conn()
	if err != nil {
		return "", err
	}

	if id == "" {
		link.LinkID = newID()
		link.CreatedAt = time.Now().UTC()
		id = link.LinkID
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var dupID string
	err = tx.QueryRow(
		"SELECT link_id FROM links WHERE link_type = ? AND from_id = ? AND to_id = ? AND link_id != ?",
		link.LinkType, link.FromID, link.ToID, id,
	).Scan(&dupID)
	if err == nil {
		return "", types.ErrDuplicateName
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("checking link uniqueness: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(link_id) DO UPDATE SET link_type = excluded.link_type,
		 from_id = excluded.from_id, to_id = excluded.to_id`,
		id, link.LinkType, link.FromID, link.ToID, formatTime(link.CreatedAt),
	); err != nil {
		return "", fmt.Errorf("persisting link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing link: %w", err)
	}

	link.LinkID = id
	if err := persistLinks(lt.backend, db); err != nil {
		return "", fmt.Errorf("persisting %s: %w", linksFile, err)
	}
	return id, nil
}

// Delete removes a link by id.
func (lt *linksTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}

	lt.backend.writeMu.Lock()
	defer lt.backend.writeMu.Unlock()

	db, err := lt.backend.conn()
	if err != nil {
		return err
	}
	res, err := db.Exec("DELETE FROM links WHERE link_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	if err := persistLinks(lt.backend, db); err != nil {
		return fmt.Errorf("persisting %s: %w", linksFile, err)
	}
	return nil
}

// Fetch returns links ordered by creation time. Supported filter keys:
// link_type, from_id, to_id (strings).
func (lt *linksTable) Fetch(filter types.Filter) ([]any, error) {
	db, err := lt.backend.conn()
	if err != nil {
		return nil, err
	}
	var (
		conditions []string
		args       []any
	)
	for _, key := range []string{"link_type", "from_id", "to_id"} {
		v, ok, err := filterString(filter, key)
		if err != nil {
			return nil, err
		}
		if ok {
			conditions = append(conditions, key+" = ?")
			args = append(args, v)
		}
	}
	query := "SELECT " + linkColumns + " FROM links"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, link_id ASC"

	links, err := queryLinks(db, query, args...)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(links))
	for i, l := range links {
		results[i] = l
	}
	return results, nil
}

func queryLinks(db *sql.DB, query string, args ...any) ([]*types.Link, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var out []*types.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("hydrating link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLink(row scanner) (*types.Link, error) {
	var (
		l         types.Link
		createdAt string
	)
	if err := row.Scan(&l.LinkID, &l.LinkType, &l.FromID, &l.ToID, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	l.CreatedAt = t
	return &l, nil
}

// persistLinks rewrites links.jsonl from SQLite.
func persistLinks(b *Backend, db *sql.DB) error {
	links, err := queryLinks(db, "SELECT "+linkColumns+" FROM links ORDER BY created_at ASC, link_id ASC")
	if err != nil {
		return err
	}
	lines := make([]linkJSONLRecord, len(links))
	for i, l := range links {
		lines[i] = linkJSONLRecord{
			LinkID:    l.LinkID,
			LinkType:  l.LinkType,
			FromID:    l.FromID,
			ToID:      l.ToID,
			CreatedAt: formatTime(l.CreatedAt),
		}
	}
	raw, err := marshalJSONL(lines)
	if err != nil {
		return err
	}
	return writeJSONL(b.dataPath(linksFile), raw)
}

// linkJSONLRecord is one line of links.jsonl.
type linkJSONLRecord struct {
	LinkID    string `json:"link_id"`
	LinkType  string `json:"link_type"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	CreatedAt string `json:"created_at"`
}
