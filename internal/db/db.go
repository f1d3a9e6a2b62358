package db

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/text/cases"

	_ "modernc.org/sqlite"
)

// BusyTimeout is how long a connection waits on a locked database. The
// admin tool and pmctl may hold the same file open.
const BusyTimeout = 5 * time.Second

// DB wraps the SQLite store of members, messages, labels and rules.
type DB struct {
	*sql.DB
}

// connection pragmas, applied by the driver to every pooled connection.
var pragmas = []string{
	"foreign_keys(1)",
	fmt.Sprintf("busy_timeout(%d)", BusyTimeout.Milliseconds()),
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Open creates or opens a SQLite database at the given path and brings its
// schema up to date.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("db: WAL unavailable (%v), using default journal", err)
	}

	var fk bool
	if err := sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("check foreign keys: %w", err)
	}
	if !fk {
		sqlDB.Close()
		return nil, fmt.Errorf("open database %s: foreign keys not enabled", path)
	}

	db := &DB{DB: sqlDB}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

var nameFolder = cases.Fold()

// FoldName is the case-folded form member names are matched on. SQLite's
// NOCASE only folds ASCII.
func FoldName(name string) string {
	return nameFolder.String(strings.TrimSpace(name))
}

// AppliedMigration is one row of the migration log.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// AppliedMigrations returns the migration log in version order.
func (db *DB) AppliedMigrations() ([]AppliedMigration, error) {
	rows, err := db.Query("SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		var at sql.NullTime
		if err := rows.Scan(&m.Version, &m.Name, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		if at.Valid {
			m.AppliedAt = at.Time
		}
		applied = append(applied, m)
	}
	return applied, rows.Err()
}

// migrate applies pending migrations. Each one runs with its data step in
// a single transaction, so a failed step leaves no half-applied schema.
func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for i, m := range migrations {
		version := i + 1
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		log.Printf("db: running migration %d: %s", version, m.name)
		if err := db.apply(version, m); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) apply(version int, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
	}
	if m.fill != nil {
		if err := m.fill(tx); err != nil {
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", version, m.name); err != nil {
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	return tx.Commit()
}
