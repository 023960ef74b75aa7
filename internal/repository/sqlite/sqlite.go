// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary
// cross-compiles without a C toolchain. Use ":memory:" for tests.
//
// The schema lives in migrations/ and is applied with goose on New.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/geosocial/internal/apperror"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a sql.DB connection pool. Users() and Posts() return the
// repository views over the same pool.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/geosocial.db" → file-based database
//   - ":memory:"          → in-memory database, lost on Close
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a separate, empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns the user repository backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Posts returns the post repository backed by this database.
func (db *DB) Posts() *PostDB {
	return &PostDB{conn: db.conn}
}

func (db *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.conn, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return err
	}
	return nil
}

// uniqueViolation translates a SQLite UNIQUE constraint failure into an
// apperror.Conflict naming the offending column. It returns nil when err is
// not a UNIQUE violation.
//
// SQLite reports the failure as "UNIQUE constraint failed: users.email".
func uniqueViolation(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	isUnique := errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	msg := err.Error()
	if !isUnique && !strings.Contains(msg, "UNIQUE constraint failed") {
		return nil
	}

	column := ""
	if i := strings.Index(msg, "UNIQUE constraint failed: "); i >= 0 {
		target := msg[i+len("UNIQUE constraint failed: "):]
		if j := strings.IndexAny(target, " ,("); j >= 0 {
			target = target[:j]
		}
		if k := strings.LastIndex(target, "."); k >= 0 {
			target = target[k+1:]
		}
		column = target
	}

	return apperror.Conflict(column, fmt.Sprintf("%s already in use", column))
}
