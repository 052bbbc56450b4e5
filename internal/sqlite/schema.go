package sqlite

// Schema DDL. SQLite is a query cache rebuilt from the JSONL files on every
// Attach.
const (
	createSpecs = `CREATE TABLE specs (
    name TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    body TEXT NOT NULL,
    change_id TEXT,
    updated_at TEXT NOT NULL
);`

	createSpecHistory = `CREATE TABLE spec_history (
    history_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    version INTEGER NOT NULL,
    body TEXT NOT NULL,
    change_id TEXT,
    created_at TEXT NOT NULL
);`

	createChanges = `CREATE TABLE changes (
    change_id TEXT PRIMARY KEY,
    feature TEXT NOT NULL,
    number INTEGER NOT NULL,
    status TEXT NOT NULL,
    depends_on TEXT NOT NULL DEFAULT '[]',
    implements TEXT NOT NULL DEFAULT '[]',
    batch_accepted INTEGER NOT NULL DEFAULT 0,
    applied_version INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createLinks = `CREATE TABLE links (
    link_id TEXT PRIMARY KEY,
    link_type TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxSpecHistoryVersion = `CREATE UNIQUE INDEX idx_spec_history_version ON spec_history(name, version);`
	idxChangesFeature     = `CREATE INDEX idx_changes_feature ON changes(feature, number);`
	idxChangesStatus      = `CREATE INDEX idx_changes_status ON changes(status);`
	idxLinksUnique        = `CREATE UNIQUE INDEX idx_links_unique ON links(link_type, from_id, to_id);`
	idxLinksTypeFrom      = `CREATE INDEX idx_links_type_from ON links(link_type, from_id);`
	idxLinksTypeTo        = `CREATE INDEX idx_links_type_to ON links(link_type, to_id);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createSpecs,
	createSpecHistory,
	createChanges,
	createLinks,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxSpecHistoryVersion,
	idxChangesFeature,
	idxChangesStatus,
	idxLinksUnique,
	idxLinksTypeFrom,
	idxLinksTypeTo,
}
