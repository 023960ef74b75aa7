// Package postgres implements the repository interfaces on PostgreSQL via
// the pgx database/sql driver. Migrations are embedded and applied with
// goose when the database is opened.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/geosocial/internal/apperror"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolationCode is the SQLSTATE for unique_violation.
const uniqueViolationCode = "23505"

// constraintFields maps named UNIQUE constraints to the column they guard.
var constraintFields = map[string]string{
	"users_id_key":       "id",
	"users_username_key": "username",
	"users_email_key":    "email",
	"posts_id_key":       "id",
}

type DB struct {
	conn *sql.DB
}

// migrateUp is a seam so tests can run Open without a live server.
var migrateUp = func(ctx context.Context, conn *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, conn, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	_, err = provider.Up(ctx)
	return err
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	db, err := newDB(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func newDB(ctx context.Context, conn *sql.DB) (*DB, error) {
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	if err := migrateUp(ctx, conn); err != nil {
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

func (db *DB) Posts() *PostDB {
	return &PostDB{conn: db.conn}
}

// uniqueViolation converts a unique_violation into apperror.Conflict. It
// returns nil for every other error.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return nil
	}
	field, ok := constraintFields[pgErr.ConstraintName]
	if !ok {
		field = pgErr.ColumnName
	}
	return apperror.Conflict(field, fmt.Sprintf("%s already in use", field))
}
