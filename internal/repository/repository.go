// Package repository declares the storage contracts used by the service
// layer. Implementations live in sub-packages (sqlite, postgres) and may be
// wrapped by the breaker package.
//
// Contract for every implementation:
//   - absence is reported as apperror.ErrNotFound
//   - UNIQUE violations are reported as apperror.Conflict with Field set to
//     the violated column ("id", "username", "email")
//   - anything else is a plain wrapped error
package repository

import (
	"context"

	"github.com/sakif/geosocial/internal/model"
)

// UserUpdate is a partial update. Nil fields are left unchanged.
type UserUpdate struct {
	Username    *string
	DisplayName *string
	Email       *string
}

// IsEmpty reports whether the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Username == nil && u.DisplayName == nil && u.Email == nil
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	MaxID(ctx context.Context) (int64, error)
	Update(ctx context.Context, id int64, update UserUpdate) (*model.User, error)
	Delete(ctx context.Context, id int64) error
}

type ListOptions struct {
	Limit  int
	Offset int
}

// Area selects posts inside a lat/lng rectangle.
type Area struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	Limit          int
}

type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, id int64) (*model.Post, error)
	ListByOwner(ctx context.Context, ownerID int64, opts ListOptions) ([]model.Post, error)
	ListInArea(ctx context.Context, area Area) ([]model.Post, error)
	MaxID(ctx context.Context) (int64, error)
	Update(ctx context.Context, post *model.Post) error
	Delete(ctx context.Context, id int64) error
	DeleteByOwner(ctx context.Context, ownerID int64) error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
