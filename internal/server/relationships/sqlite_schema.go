package relationships

// SQLite schema DDL constants

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    label TEXT NOT NULL,
    uid TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL,
    UNIQUE(label, uid)
)`

const schemaRelationships = `
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_rowid INTEGER NOT NULL REFERENCES nodes(rowid) ON DELETE CASCADE,
    target_rowid INTEGER NOT NULL REFERENCES nodes(rowid) ON DELETE CASCADE,
    type TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL,
    UNIQUE(source_rowid, target_rowid, type)
)`

// Index definitions
const indexNodesLabel = `CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label)`
const indexRelationshipsSource = `CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_rowid)`
const indexRelationshipsTarget = `CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_rowid)`
const indexRelationshipsType = `CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(type)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaRelationships,
		indexNodesLabel,
		indexRelationshipsSource,
		indexRelationshipsTarget,
		indexRelationshipsType,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
