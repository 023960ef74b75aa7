package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

// newTestDB returns a fresh in-memory database with all migrations applied.
// t.Helper() makes failures point at the caller's line.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, u *UserDB, id int64, username string) *model.User {
	t.Helper()
	user := &model.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  username,
		PasswordHash: "$2a$04$not-a-real-hash",
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func strPtr(s string) *string { return &s }

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	u := newTestDB(t).Users()

	user := &model.User{
		ID:           1,
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.RecordID == "" {
		t.Error("Create() did not set user.RecordID")
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}
}

func TestUserCreate_Duplicates(t *testing.T) {
	tests := []struct {
		name      string
		user      model.User
		wantField string
	}{
		{"same id", model.User{ID: 1, Username: "bob", Email: "bob@example.com"}, "id"},
		{"same username", model.User{ID: 2, Username: "alice", Email: "other@example.com"}, "username"},
		{"same email", model.User{ID: 2, Username: "bob", Email: "alice@example.com"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newTestDB(t).Users()
			createTestUser(t, u, 1, "alice")

			dup := tt.user
			err := u.Create(context.Background(), &dup)
			if !errors.Is(err, apperror.ErrConflict) {
				t.Fatalf("Create() error = %v, want ErrConflict", err)
			}
			if got := apperror.ConflictField(err); got != tt.wantField {
				t.Errorf("conflict field = %q, want %q", got, tt.wantField)
			}
		})
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestUserGetByID(t *testing.T) {
	u := newTestDB(t).Users()
	created := createTestUser(t, u, 7, "carol")

	found, err := u.GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.RecordID != created.RecordID {
		t.Errorf("RecordID = %q, want %q", found.RecordID, created.RecordID)
	}
	if found.Username != "carol" {
		t.Errorf("Username = %q, want %q", found.Username, "carol")
	}
	if found.PasswordHash != created.PasswordHash {
		t.Errorf("PasswordHash was not persisted")
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, err := u.GetByID(context.Background(), 404)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestUserGetByUsername(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, 3, "dave")

	found, err := u.GetByUsername(context.Background(), "dave")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if found.ID != 3 {
		t.Errorf("ID = %d, want 3", found.ID)
	}

	_, err = u.GetByUsername(context.Background(), "Dave")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByUsername() is case sensitive, got err = %v", err)
	}
}

func TestUserFindByUsernameOrEmail(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, 1, "erin")

	byName, err := u.FindByUsernameOrEmail(context.Background(), "erin", "nobody@example.com")
	if err != nil || byName.ID != 1 {
		t.Errorf("match on username: user = %v, err = %v", byName, err)
	}

	byEmail, err := u.FindByUsernameOrEmail(context.Background(), "someone", "erin@example.com")
	if err != nil || byEmail.ID != 1 {
		t.Errorf("match on email: user = %v, err = %v", byEmail, err)
	}

	_, err = u.FindByUsernameOrEmail(context.Background(), "someone", "nobody@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("no match: err = %v, want ErrNotFound", err)
	}
}

func TestUserMaxID(t *testing.T) {
	u := newTestDB(t).Users()

	max, err := u.MaxID(context.Background())
	if err != nil {
		t.Fatalf("MaxID() on empty table: %v", err)
	}
	if max != 0 {
		t.Errorf("MaxID() on empty table = %d, want 0", max)
	}

	createTestUser(t, u, 2, "frank")
	createTestUser(t, u, 9, "grace")
	createTestUser(t, u, 4, "heidi")

	max, err = u.MaxID(context.Background())
	if err != nil {
		t.Fatalf("MaxID() error = %v", err)
	}
	if max != 9 {
		t.Errorf("MaxID() = %d, want 9", max)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUserUpdate_PartialFields(t *testing.T) {
	u := newTestDB(t).Users()
	created := createTestUser(t, u, 1, "ivan")

	updated, err := u.Update(context.Background(), 1, repository.UserUpdate{
		DisplayName: strPtr("Ivan the Great"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.DisplayName != "Ivan the Great" {
		t.Errorf("DisplayName = %q, want %q", updated.DisplayName, "Ivan the Great")
	}
	if updated.Username != "ivan" || updated.Email != created.Email {
		t.Errorf("Update() touched fields that were not set: %+v", updated)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards")
	}
}

func TestUserUpdate_Empty(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, 1, "judy")

	got, err := u.Update(context.Background(), 1, repository.UserUpdate{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Username != "judy" {
		t.Errorf("Username = %q, want judy", got.Username)
	}
}

func TestUserUpdate_ConflictingUsername(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, 1, "kim")
	createTestUser(t, u, 2, "lee")

	_, err := u.Update(context.Background(), 2, repository.UserUpdate{Username: strPtr("kim")})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Update() error = %v, want ErrConflict", err)
	}
	if got := apperror.ConflictField(err); got != "username" {
		t.Errorf("conflict field = %q, want username", got)
	}
}

func TestUserUpdate_NotFound(t *testing.T) {
	u := newTestDB(t).Users()

	_, err := u.Update(context.Background(), 99, repository.UserUpdate{Username: strPtr("x")})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestUserDelete(t *testing.T) {
	u := newTestDB(t).Users()
	createTestUser(t, u, 1, "mallory")

	if err := u.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := u.GetByID(context.Background(), 1)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after Delete: err = %v, want ErrNotFound", err)
	}

	if err := u.Delete(context.Background(), 1); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
