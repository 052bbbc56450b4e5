package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// jsonlTableMapping maps JSONL files to their SQLite tables and the columns
// extracted from each record. Fields not listed are ignored so that files
// written by newer versions still load.
var jsonlTableMapping = []struct {
	file    string
	table   string
	columns []string
}{
	{specsFile, "specs", []string{"name", "version", "body", "change_id", "updated_at"}},
	{specHistoryFile, "spec_history", []string{"history_id", "name", "version", "body", "change_id", "created_at"}},
	{changesFile, "changes", []string{"change_id", "feature", "number", "status", "depends_on", "implements", "batch_accepted", "applied_version", "created_at", "updated_at"}},
	{linksFile, "links", []string{"link_id", "link_type", "from_id", "to_id", "created_at"}},
}

// loadAllJSONL reads every JSONL file in dataDir into its table inside one
// transaction: either every file loads or the database stays empty.
func loadAllJSONL(db *sql.DB, dataDir string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range jsonlTableMapping {
		records, err := readJSONL(filepath.Join(dataDir, m.file))
		if err != nil {
			return fmt.Errorf("reading %s: %w", m.file, err)
		}
		if len(records) == 0 {
			continue
		}
		if err := insertRecords(tx, m.table, m.columns, records); err != nil {
			return fmt.Errorf("loading %s into %s: %w", m.file, m.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRecords inserts JSONL records into table. JSON arrays and objects
// are stored as their JSON text. Records that fail to decode or violate a
// constraint are skipped.
func insertRecords(tx *sql.Tx, table string, columns []string, records []json.RawMessage) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders,
	))
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var obj map[string]any
		if err := json.Unmarshal(rec, &obj); err != nil {
			continue
		}
		args := make([]any, len(columns))
		for i, col := range columns {
			switch v := obj[col].(type) {
			case map[string]any, []any:
				b, err := json.Marshal(v)
				if err != nil {
					continue
				}
				args[i] = string(b)
			case nil:
				args[i] = nil
			default:
				args[i] = v
			}
		}
		// Missing array columns fall back to their defaults.
		for i, col := range columns {
			if args[i] == nil && (col == "depends_on" || col == "implements") {
				args[i] = "[]"
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			continue
		}
	}
	return nil
}
