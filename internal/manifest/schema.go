// Package manifest provides the catalog of cached query artifacts.
package manifest

// The manifest catalog is a SQLite database recording, for every cached
// artifact, the query text it answers and a checksum of its bytes.

// CreateArtifactsTableSQL creates the core artifacts table.
const CreateArtifactsTableSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
    fingerprint TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    object_path TEXT NOT NULL,
    query_text TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    checksum TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateArtifactsIndexesSQL creates indexes for listing artifacts.
var CreateArtifactsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_artifacts_role ON artifacts(role)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the manifest catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateArtifactsTableSQL,
	}
	statements = append(statements, CreateArtifactsIndexesSQL...)
	return statements
}
