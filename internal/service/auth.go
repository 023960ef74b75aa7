// Package service holds the business rules. Handlers call services and turn
// the returned apperror values into redirects or JSON; services never see
// HTTP types.
//
//	handler (HTTP) → service (rules) → repository (store)
//	                       ↘ auth (passwords, tokens)
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
	"github.com/sakif/geosocial/internal/revocation"
)

// User-visible login messages. They differ on purpose; see DESIGN.md.
const (
	MsgInvalidUser     = "Invalid User"
	MsgInvalidPassword = "Invalid password"
)

type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	denylist  revocation.Store
	logger    *slog.Logger
}

// NewAuthService wires an AuthService. A nil denylist makes logout
// stateless.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	denylist revocation.Store,
	logger *slog.Logger,
) *AuthService {
	if denylist == nil {
		denylist = revocation.Noop{}
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		denylist:  denylist,
		logger:    logger,
	}
}

// AuthResult bundles the signed-in user and their session token so the
// handler can set the cookie and redirect in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Login checks a username/password pair. An unknown username and a wrong
// password are both ErrUnauthenticated, with different messages.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Info("login failed", slog.String("username", username), slog.String("reason", "unknown user"))
		return nil, apperror.Unauthenticated(MsgInvalidUser)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	if !s.passwords.Verify(user.PasswordHash, password) {
		s.logger.Info("login failed", slog.Int64("userID", user.ID), slog.String("reason", "wrong password"))
		return nil, apperror.Unauthenticated(MsgInvalidPassword)
	}

	return s.issue(user, "user logged in")
}

// SignupInput is the signup form. Fields are trimmed and Email is
// lowercased before validation.
type SignupInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (in *SignupInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Password = strings.TrimSpace(in.Password)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
}

func (in SignupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username,
			validation.Required.Error("Please enter a username"),
			validation.Length(1, 64).Error("Username must be at most 64 characters"),
		),
		validation.Field(&in.Password,
			validation.Required.Error("Please enter a password"),
			validation.Length(1, 72).Error("Password must be at most 72 bytes"),
		),
		validation.Field(&in.Email,
			validation.Required.Error("Please enter an email"),
			is.Email.Error("Please enter a valid email"),
		),
		validation.Field(&in.DisplayName,
			validation.Required.Error("Please enter a display name"),
			validation.Length(1, 100).Error("Display name must be at most 100 characters"),
		),
	)
}

// Signup creates an account and signs it in. The new id is max+1; when a
// concurrent signup takes that id first the insert is retried with a fresh
// maximum.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	if err := s.ensureAvailable(ctx, in.Username, in.Email); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
	}
	if err := s.createWithNextID(ctx, user); err != nil {
		if field := apperror.ConflictField(err); field == "username" || field == "email" {
			// Lost a race with another signup for the same name or address.
			if availErr := s.ensureAvailable(ctx, in.Username, in.Email); availErr != nil {
				return nil, availErr
			}
		}
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user %q: %w", in.Username, err)
	}

	return s.issue(user, "user signed up")
}

// ensureAvailable returns a Conflict naming the existing account when the
// username or email is taken.
func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	existing, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/auth: checking existing users: %w", err)
	}

	field := "email"
	if existing.Username == username {
		field = "username"
	}
	return apperror.Conflict(field, fmt.Sprintf("User %s already exists", existing.Username))
}

// createWithNextID inserts user with id = max+1, retrying on id conflicts.
func (s *AuthService) createWithNextID(ctx context.Context, user *model.User) error {
	return insertWithNextID(ctx, s.logger, s.users.MaxID, func(ctx context.Context, id int64) error {
		user.ID = id
		return s.users.Create(ctx, user)
	})
}

// Logout revokes token when a denylist is configured. Tokens that no longer
// verify are ignored: they cannot be used anyway.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	identity, err := s.tokens.Verify(token)
	if err != nil {
		return nil
	}

	if err := s.denylist.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
		return fmt.Errorf("service/auth: revoking token of user %d: %w", identity.ID, err)
	}
	s.logger.Info("user logged out", slog.Int64("userID", identity.ID))
	return nil
}

// LoginWithGitHub signs in the account linked to a GitHub profile, creating
// it on first use. Accounts are linked through the GitHub noreply address,
// which is stable across renames. New accounts take the GitHub login as
// username, or "<login>-<githubID>" when that name is taken, and get an
// unusable password.
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, errors.New("service/auth: GitHub user must not be nil")
	}

	email := githubNoreplyEmail(gh)
	existing, err := s.users.FindByUsernameOrEmail(ctx, "", email)
	if err == nil {
		return s.issue(existing, "user logged in via GitHub")
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up GitHub user %d: %w", gh.ID, err)
	}

	hash, err := s.passwords.Unusable()
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	displayName := strings.TrimSpace(gh.Name)
	if displayName == "" {
		displayName = gh.Login
	}

	candidates := []string{gh.Login, gh.Login + "-" + strconv.FormatInt(gh.ID, 10)}
	for i, username := range candidates {
		user := &model.User{
			Username:     username,
			Email:        email,
			DisplayName:  displayName,
			PasswordHash: hash,
		}
		err := s.createWithNextID(ctx, user)
		if err == nil {
			return s.issue(user, "user signed up via GitHub")
		}
		if apperror.ConflictField(err) != "username" || i == len(candidates)-1 {
			return nil, fmt.Errorf("service/auth: creating GitHub user %d: %w", gh.ID, err)
		}
	}
	return nil, fmt.Errorf("service/auth: no username available for GitHub user %d", gh.ID)
}

func githubNoreplyEmail(gh *auth.GitHubUser) string {
	return strings.ToLower(fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, gh.Login))
}

func (s *AuthService) issue(user *model.User, event string) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}
	s.logger.Info(event, slog.Int64("userID", user.ID), slog.String("username", user.Username))
	return &AuthResult{User: user, Token: token}, nil
}
