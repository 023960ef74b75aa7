package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

type UserDB struct {
	conn *sql.DB
}

const userColumns = `record_id, id, username, email, display_name, password_hash, created_at, updated_at`

func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.RecordID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.RecordID, user.ID, user.Username, user.Email, user.DisplayName,
		user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("postgres: inserting user %d: %w", user.ID, err)
	}
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return u.getOne(ctx, strconv.FormatInt(id, 10), fmt.Sprintf("getting user %d", id),
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return u.getOne(ctx, username, fmt.Sprintf("getting user %q", username),
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (u *UserDB) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	return u.getOne(ctx, username, fmt.Sprintf("finding user %q/%q", username, email),
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $2 ORDER BY id LIMIT 1`,
		username, email)
}

func (u *UserDB) MaxID(ctx context.Context) (int64, error) {
	var id int64
	err := u.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM users`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: reading max user id: %w", err)
	}
	return id, nil
}

func (u *UserDB) Update(ctx context.Context, id int64, update repository.UserUpdate) (*model.User, error) {
	if update.IsEmpty() {
		return u.GetByID(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Username != nil {
		add("username", *update.Username)
	}
	if update.DisplayName != nil {
		add("display_name", *update.DisplayName)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	user, err := scanUser(u.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		if conflict := uniqueViolation(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("postgres: updating user %d: %w", id, err)
	}
	return user, nil
}

func (u *UserDB) Delete(ctx context.Context, id int64) error {
	result, err := u.conn.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deleting user %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

// getOne runs a single-row lookup. key names the user in NotFound errors,
// op describes the lookup in store errors.
func (u *UserDB) getOne(ctx context.Context, key, op, query string, args ...any) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return user, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var user model.User
	if err := row.Scan(
		&user.RecordID, &user.ID, &user.Username, &user.Email, &user.DisplayName,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
