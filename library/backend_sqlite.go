package library

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps every resource as rows of one SQLite table. The line
// text is stored verbatim so before-images compare exactly as they do in the
// flat files.
type SQLiteBackend struct {
	db   *sql.DB
	path string

	linesStmt  *sql.Stmt
	appendStmt *sql.Stmt
}

// NewSQLiteBackend opens (or creates) the SQLite database at dbPath, applies
// schema migrations, and prepares common statements.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_synchronous=FULL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps Replace's read-then-write inside a single writer.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	b := &SQLiteBackend{db: db, path: dbPath}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) Path() string { return b.path }

// Close releases prepared statements and closes the DB.
func (b *SQLiteBackend) Close() error {
	if b.linesStmt != nil {
		b.linesStmt.Close()
	}
	if b.appendStmt != nil {
		b.appendStmt.Close()
	}
	return b.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lines (
            resource TEXT NOT NULL,
            seq INTEGER NOT NULL,
            line TEXT NOT NULL,
            PRIMARY KEY (resource, seq)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_lines_text ON lines(resource, line);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (b *SQLiteBackend) prepareStatements() error {
	var err error
	if b.linesStmt, err = b.db.Prepare(`SELECT line FROM lines WHERE resource=? ORDER BY seq`); err != nil {
		return err
	}
	if b.appendStmt, err = b.db.Prepare(`INSERT INTO lines(resource,seq,line)
        VALUES(?, COALESCE((SELECT MAX(seq) FROM lines WHERE resource=?), 0) + 1, ?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

func (b *SQLiteBackend) Lines(resource string) ([]string, error) {
	rows, err := b.linesStmt.Query(resource)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resource, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (b *SQLiteBackend) Append(resource, line string) error {
	if _, err := b.appendStmt.Exec(resource, resource, line); err != nil {
		return fmt.Errorf("append %s: %w", resource, err)
	}
	return nil
}

// Replace counts exact matches and rewrites the single one in the same
// transaction.
func (b *SQLiteBackend) Replace(resource, before, after string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT seq FROM lines WHERE resource=? AND line=? ORDER BY seq`, resource, before)
	if err != nil {
		return err
	}
	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return err
		}
		seqs = append(seqs, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	switch len(seqs) {
	case 0:
		return fmt.Errorf("%w: %s", ErrStaleWrite, resource)
	case 1:
	default:
		return fmt.Errorf("%w: %s has duplicate lines at seq %d and %d", ErrStoreCorruption, resource, seqs[0], seqs[1])
	}

	if _, err := tx.Exec(`UPDATE lines SET line=? WHERE resource=? AND seq=?`, after, resource, seqs[0]); err != nil {
		return fmt.Errorf("replace %s: %w", resource, err)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Restore(resource string, lines []string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM lines WHERE resource=?`, resource); err != nil {
		return err
	}
	for i, l := range lines {
		if _, err := tx.Exec(`INSERT INTO lines(resource,seq,line) VALUES(?,?,?)`, resource, i+1, l); err != nil {
			return fmt.Errorf("restore %s: %w", resource, err)
		}
	}
	return tx.Commit()
}
