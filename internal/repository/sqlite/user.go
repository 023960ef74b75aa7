package sqlite

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

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB stores user records in the users table.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `record_id, id, username, email, display_name, password_hash, created_at, updated_at`

// Create inserts a new user. The caller assigns user.ID; RecordID and the
// timestamps are filled in here.
//
// A UNIQUE violation on id, username or email is returned as
// apperror.Conflict with Field set to the column.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.RecordID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.RecordID,
		user.ID,
		user.Username,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: inserting user %d: %w", user.ID, err)
	}

	return nil
}

// GetByID retrieves a user by their public numeric id.
func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return user, nil
}

// GetByUsername retrieves a user by exact username match.
func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return user, nil
}

// FindByUsernameOrEmail returns the first user whose username or email
// matches. Used for the signup conflict check.
func (u *UserDB) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username = ? OR email = ?
		 ORDER BY id
		 LIMIT 1`,
		username, email)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: finding user %q/%q: %w", username, email, err)
	}
	return user, nil
}

// MaxID returns the highest assigned id, or 0 when there are no users.
func (u *UserDB) MaxID(ctx context.Context) (int64, error) {
	var id int64
	err := u.conn.QueryRowContext(ctx,
		`SELECT id FROM users ORDER BY id DESC LIMIT 1`,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("sqlite: reading max user id: %w", err)
	}
	return id, nil
}

// Update applies the non-nil fields of update and returns the refreshed
// record.
func (u *UserDB) Update(ctx context.Context, id int64, update repository.UserUpdate) (*model.User, error) {
	if update.IsEmpty() {
		return u.GetByID(ctx, id)
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if update.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *update.Username)
	}
	if update.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *update.DisplayName)
	}
	if update.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *update.Email)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("sqlite: updating user %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}

	return u.GetByID(ctx, id)
}

// Delete removes a user by id.
func (u *UserDB) Delete(ctx context.Context, id int64) error {
	result, err := u.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.RecordID,
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
