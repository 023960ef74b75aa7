package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory UserRepository that enforces the same
// uniqueness rules as the real stores.
type fakeUserRepo struct {
	users map[int64]*model.User

	// stealIDs makes the next N creates lose a race: a competing user is
	// inserted under the requested id and Create reports an id conflict.
	stealIDs int

	creates int
	getErr  error
	maxErr  error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	f.creates++
	if f.stealIDs > 0 {
		f.stealIDs--
		f.users[user.ID] = &model.User{ID: user.ID, Username: fmt.Sprintf("racer-%d", user.ID), Email: fmt.Sprintf("racer-%d@x.com", user.ID)}
		return apperror.Conflict("id", "id already in use")
	}
	if err := f.checkUnique(user, 0); err != nil {
		return err
	}
	if _, ok := f.users[user.ID]; ok {
		return apperror.Conflict("id", "id already in use")
	}
	user.RecordID = fmt.Sprintf("rec-%d", user.ID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) checkUnique(user *model.User, exceptID int64) error {
	for id, u := range f.users {
		if id == exceptID {
			continue
		}
		if u.Username == user.Username {
			return apperror.Conflict("username", "username already in use")
		}
		if u.Email == user.Email {
			return apperror.Conflict("email", "email already in use")
		}
	}
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", fmt.Sprint(id))
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (f *fakeUserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := f.users[id]
		if u.Username == username || u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (f *fakeUserRepo) MaxID(ctx context.Context) (int64, error) {
	if f.maxErr != nil {
		return 0, f.maxErr
	}
	var last int64
	for id := range f.users {
		last = max(last, id)
	}
	return last, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, id int64, update repository.UserUpdate) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", fmt.Sprint(id))
	}
	next := *u
	if update.Username != nil {
		next.Username = *update.Username
	}
	if update.DisplayName != nil {
		next.DisplayName = *update.DisplayName
	}
	if update.Email != nil {
		next.Email = *update.Email
	}
	if err := f.checkUnique(&next, id); err != nil {
		return nil, err
	}
	f.users[id] = &next
	copied := next
	return &copied, nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", fmt.Sprint(id))
	}
	delete(f.users, id)
	return nil
}

// fakePostRepo is an in-memory PostRepository.
type fakePostRepo struct {
	posts map[int64]*model.Post

	areas     []repository.Area
	listErr   error
	deleteErr error
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: make(map[int64]*model.Post)}
}

func (f *fakePostRepo) Create(ctx context.Context, post *model.Post) error {
	if _, ok := f.posts[post.ID]; ok {
		return apperror.Conflict("id", "id already in use")
	}
	copied := *post
	f.posts[post.ID] = &copied
	return nil
}

func (f *fakePostRepo) GetByID(ctx context.Context, id int64) (*model.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", fmt.Sprint(id))
	}
	copied := *p
	return &copied, nil
}

func (f *fakePostRepo) ListByOwner(ctx context.Context, ownerID int64, opts repository.ListOptions) ([]model.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Post
	for _, p := range f.posts {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakePostRepo) ListInArea(ctx context.Context, area repository.Area) ([]model.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.areas = append(f.areas, area)
	var out []model.Post
	for _, p := range f.posts {
		l := p.Location
		if l.Lat >= area.MinLat && l.Lat <= area.MaxLat && l.Lng >= area.MinLng && l.Lng <= area.MaxLng {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePostRepo) MaxID(ctx context.Context) (int64, error) {
	var last int64
	for id := range f.posts {
		last = max(last, id)
	}
	return last, nil
}

func (f *fakePostRepo) Update(ctx context.Context, post *model.Post) error {
	if _, ok := f.posts[post.ID]; !ok {
		return apperror.NotFound("post", fmt.Sprint(post.ID))
	}
	copied := *post
	f.posts[post.ID] = &copied
	return nil
}

func (f *fakePostRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := f.posts[id]; !ok {
		return apperror.NotFound("post", fmt.Sprint(id))
	}
	delete(f.posts, id)
	return nil
}

func (f *fakePostRepo) DeleteByOwner(ctx context.Context, ownerID int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, p := range f.posts {
		if p.OwnerID == ownerID {
			delete(f.posts, id)
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}
