package breaker

import (
	"context"

	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

var (
	_ repository.UserRepository = (*UserRepository)(nil)
	_ repository.PostRepository = (*PostRepository)(nil)
)

type UserRepository struct {
	next repository.UserRepository
	b    *Breaker
}

func NewUserRepository(next repository.UserRepository, b *Breaker) *UserRepository {
	return &UserRepository{next: next, b: b}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return exec(ctx, r.b, func(ctx context.Context) error {
		return r.next.Create(ctx, user)
	})
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return call(ctx, r.b, func(ctx context.Context) (*model.User, error) {
		return r.next.GetByID(ctx, id)
	})
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return call(ctx, r.b, func(ctx context.Context) (*model.User, error) {
		return r.next.GetByUsername(ctx, username)
	})
}

func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	return call(ctx, r.b, func(ctx context.Context) (*model.User, error) {
		return r.next.FindByUsernameOrEmail(ctx, username, email)
	})
}

func (r *UserRepository) MaxID(ctx context.Context) (int64, error) {
	return call(ctx, r.b, r.next.MaxID)
}

func (r *UserRepository) Update(ctx context.Context, id int64, update repository.UserUpdate) (*model.User, error) {
	return call(ctx, r.b, func(ctx context.Context) (*model.User, error) {
		return r.next.Update(ctx, id, update)
	})
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	return exec(ctx, r.b, func(ctx context.Context) error {
		return r.next.Delete(ctx, id)
	})
}

type PostRepository struct {
	next repository.PostRepository
	b    *Breaker
}

func NewPostRepository(next repository.PostRepository, b *Breaker) *PostRepository {
	return &PostRepository{next: next, b: b}
}

func (r *PostRepository) Create(ctx context.Context, post *model.Post) error {
	return exec(ctx, r.b, func(ctx context.Context) error {
		return r.next.Create(ctx, post)
	})
}

func (r *PostRepository) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	return call(ctx, r.b, func(ctx context.Context) (*model.Post, error) {
		return r.next.GetByID(ctx, id)
	})
}

func (r *PostRepository) ListByOwner(ctx context.Context, ownerID int64, opts repository.ListOptions) ([]model.Post, error) {
	return call(ctx, r.b, func(ctx context.Context) ([]model.Post, error) {
		return r.next.ListByOwner(ctx, ownerID, opts)
	})
}

func (r *PostRepository) ListInArea(ctx context.Context, area repository.Area) ([]model.Post, error) {
	return call(ctx, r.b, func(ctx context.Context) ([]model.Post, error) {
		return r.next.ListInArea(ctx, area)
	})
}

func (r *PostRepository) MaxID(ctx context.Context) (int64, error) {
	return call(ctx, r.b, r.next.MaxID)
}

func (r *PostRepository) Update(ctx context.Context, post *model.Post) error {
	return exec(ctx, r.b, func(ctx context.Context) error {
		return r.next.Update(ctx, post)
	})
}

func (r *PostRepository) Delete(ctx context.Context, id int64) error {
	return exec(ctx, r.b, func(ctx context.Context) error {
		return r.next.Delete(ctx, id)
	})
}

func (r *PostRepository) DeleteByOwner(ctx context.Context, ownerID int64) error {
	return exec(ctx, r.b, func(ctx context.Context) error {
		return r.next.DeleteByOwner(ctx, ownerID)
	})
}
