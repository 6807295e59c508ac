package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dservsys/geolimes/pkg/types"
)

// ErrNotFound is returned when no artifact is recorded for a fingerprint.
var ErrNotFound = errors.New("manifest: artifact not found")

// Catalog records cache artifacts in manifest.db.
type Catalog interface {
	// Record adds or replaces the entry for entry.Fingerprint.
	Record(ctx context.Context, entry *Entry) error

	// Get retrieves a single entry by fingerprint, or ErrNotFound.
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// List returns all entries, newest first.
	List(ctx context.Context) ([]*Entry, error)

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, fingerprint string) error

	// Close closes the catalog database connection.
	Close() error
}

// Entry describes one cached artifact.
type Entry struct {
	Fingerprint string
	Role        types.Role
	ObjectPath  string
	QueryText   string
	RowCount    int64
	SizeBytes   int64
	Checksum    string
	CreatedAt   time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock

	upsertStmt *sql.Stmt
}

const selectColumns = `
	SELECT fingerprint, role, object_path, query_text,
		row_count, size_bytes, checksum, created_at
	FROM artifacts`

// NewCatalog opens (creating if needed) the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	// Schema first so the read pool never opens a missing file
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	upsertStmt, err := db.Prepare(`
		INSERT INTO artifacts (
			fingerprint, role, object_path, query_text,
			row_count, size_bytes, checksum, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			role = excluded.role,
			object_path = excluded.object_path,
			query_text = excluded.query_text,
			row_count = excluded.row_count,
			size_bytes = excluded.size_bytes,
			checksum = excluded.checksum,
			created_at = excluded.created_at`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare upsert statement: %w", err)
	}
	catalog.upsertStmt = upsertStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Record adds or replaces an entry.
func (c *SQLiteCatalog) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Fingerprint == "" {
		return fmt.Errorf("manifest: entry without fingerprint")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.upsertStmt.ExecContext(ctx,
		entry.Fingerprint, entry.Role.String(), entry.ObjectPath, entry.QueryText,
		entry.RowCount, entry.SizeBytes, entry.Checksum, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to record artifact: %w", err)
	}
	return nil
}

// Get retrieves a single entry by fingerprint.
func (c *SQLiteCatalog) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	row := c.readDB.QueryRowContext(ctx, selectColumns+" WHERE fingerprint = ?", fingerprint)
	return scanEntry(row)
}

// List returns all entries, newest first.
func (c *SQLiteCatalog) List(ctx context.Context) ([]*Entry, error) {
	rows, err := c.readDB.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC, fingerprint")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: failed to iterate artifacts: %w", err)
	}
	return entries, nil
}

// Delete removes an entry.
func (c *SQLiteCatalog) Delete(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM artifacts WHERE fingerprint = ?", fingerprint); err != nil {
		return fmt.Errorf("manifest: failed to delete artifact: %w", err)
	}
	return nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.upsertStmt != nil {
		c.upsertStmt.Close()
	}
	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry         Entry
		role          string
		createdAtUnix int64
	)
	err := row.Scan(
		&entry.Fingerprint, &role, &entry.ObjectPath, &entry.QueryText,
		&entry.RowCount, &entry.SizeBytes, &entry.Checksum, &createdAtUnix,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("manifest: failed to scan artifact: %w", err)
	}

	entry.Role, err = types.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("manifest: artifact %s: %w", entry.Fingerprint, err)
	}
	entry.CreatedAt = time.Unix(createdAtUnix, 0)
	return &entry, nil
}
