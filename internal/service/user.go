package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

// Profile access messages.
const (
	MsgUserDoesntExist = "User doesnt exist"
	MsgNoAccess        = "You do not have access to this account"
)

// UserService serves a user's own profile. Every operation runs the same
// checks in the same order: the path id must parse, it must equal the
// caller's id, and only then is the store consulted. A caller probing
// someone else's id therefore learns nothing about whether it exists.
type UserService struct {
	users  repository.UserRepository
	posts  repository.PostRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, posts repository.PostRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, posts: posts, logger: logger}
}

// ParseID parses a path id. Anything that is not a positive integer is a
// validation error.
func ParseID(raw, message string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", message)
	}
	return id, nil
}

// authorize runs the parse and ownership steps.
func authorize(caller auth.Identity, rawID, invalidMessage, forbiddenMessage string) (int64, error) {
	id, err := ParseID(rawID, invalidMessage)
	if err != nil {
		return 0, err
	}
	if caller.ID != id {
		return 0, apperror.Forbidden(forbiddenMessage)
	}
	return id, nil
}

func (s *UserService) Profile(ctx context.Context, caller auth.Identity, rawID string) (*model.User, error) {
	id, err := authorize(caller, rawID, MsgUserDoesntExist, MsgNoAccess)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// UpdateInput is a partial profile update. Empty fields are left unchanged.
type UpdateInput struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (in *UpdateInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

func (in UpdateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Length(0, 64).Error("Username must be at most 64 characters")),
		validation.Field(&in.DisplayName, validation.Length(0, 100).Error("Display name must be at most 100 characters")),
		validation.Field(&in.Email, is.Email.Error("Please enter a valid email")),
	)
}

func (in UpdateInput) toUpdate() repository.UserUpdate {
	var u repository.UserUpdate
	if in.Username != "" {
		u.Username = &in.Username
	}
	if in.DisplayName != "" {
		u.DisplayName = &in.DisplayName
	}
	if in.Email != "" {
		u.Email = &in.Email
	}
	return u
}

// Update applies the non-empty fields of in. Uniqueness against other
// accounts is left to the store's constraints, which surface as Conflict.
func (s *UserService) Update(ctx context.Context, caller auth.Identity, rawID string, in UpdateInput) (*model.User, error) {
	id, err := authorize(caller, rawID, MsgUserDoesntExist, MsgNoAccess)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}

	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	user, err := s.users.Update(ctx, id, in.toUpdate())
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFoundMessage(MsgInvalidUser)
	}
	if err != nil {
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: updating user %d: %w", id, err)
	}

	s.logger.Info("profile updated", slog.Int64("userID", id))
	return user, nil
}

// Delete removes the account and every post it owns.
func (s *UserService) Delete(ctx context.Context, caller auth.Identity, rawID string) error {
	id, err := authorize(caller, rawID, MsgUserDoesntExist, MsgNoAccess)
	if err != nil {
		return err
	}
	if _, err := s.load(ctx, id); err != nil {
		return err
	}

	if err := s.posts.DeleteByOwner(ctx, id); err != nil {
		return fmt.Errorf("service/user: deleting posts of user %d: %w", id, err)
	}
	err = s.users.Delete(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.NotFoundMessage(MsgInvalidUser)
	}
	if err != nil {
		return fmt.Errorf("service/user: deleting user %d: %w", id, err)
	}

	s.logger.Info("account deleted", slog.Int64("userID", id))
	return nil
}

func (s *UserService) load(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFoundMessage(MsgInvalidUser)
	}
	if err != nil {
		return nil, fmt.Errorf("service/user: loading user %d: %w", id, err)
	}
	return user, nil
}
