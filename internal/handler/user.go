package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/service"
	"github.com/sakif/geosocial/internal/session"
)

const (
	MsgProfileUpdated = "Profile updated successfully"
	MsgAccountDeleted = "Account deleted"
)

// SessionEnder ends the session a token belongs to. *service.AuthService
// implements it.
type SessionEnder interface {
	Logout(ctx context.Context, token string) error
}

// UserHandler serves /user/{id}. Routes are mounted behind
// Guard.RequireSession, so an identity is always in the context.
type UserHandler struct {
	users    *service.UserService
	sessions SessionEnder
	cookies  *session.Cookies
	pages    *Pages
	logger   *slog.Logger
}

func NewUserHandler(
	users *service.UserService,
	sessions SessionEnder,
	cookies *session.Cookies,
	pages *Pages,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:    users,
		sessions: sessions,
		cookies:  cookies,
		pages:    pages,
		logger:   logger,
	}
}

// HandleProfile renders the caller's own profile.
//
// HTTP: GET /user/{id}
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	rawID := chi.URLParam(r, "id")

	user, err := h.users.Profile(r.Context(), caller, rawID)
	if err != nil {
		h.pages.fail(w, r, h.failurePath(err, rawID), err)
		return
	}

	h.pages.render(w, r, http.StatusOK, "profile", PageData{
		Title:    user.DisplayName,
		Identity: &caller,
		User:     user,
	})
}

// HandleUpdate applies the non-empty form fields to the profile.
//
// HTTP: PATCH /user/{id} (form: username, displayName, email)
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	rawID := chi.URLParam(r, "id")

	if err := r.ParseForm(); err != nil {
		h.pages.redirectWithMessage(w, r, "/user/"+rawID, "Invalid form submission")
		return
	}

	user, err := h.users.Update(r.Context(), caller, rawID, service.UpdateInput{
		Username:    r.PostForm.Get("username"),
		DisplayName: r.PostForm.Get("displayName"),
		Email:       r.PostForm.Get("email"),
	})
	if err != nil {
		h.pages.fail(w, r, h.failurePath(err, rawID), err)
		return
	}

	h.pages.redirectWithMessage(w, r, ProfilePath(user.ID), MsgProfileUpdated)
}

// HandleDelete removes the account, ends the session and sends the browser
// home.
//
// HTTP: DELETE /user/{id}
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	rawID := chi.URLParam(r, "id")

	if err := h.users.Delete(r.Context(), caller, rawID); err != nil {
		h.pages.fail(w, r, h.failurePath(err, rawID), err)
		return
	}

	if token, ok := h.cookies.Token(r); ok {
		if err := h.sessions.Logout(r.Context(), token); err != nil {
			h.logger.Warn("delete: revoking token failed", slog.String("error", err.Error()))
		}
	}
	h.cookies.ClearToken(w)
	h.pages.redirectWithMessage(w, r, "/", MsgAccountDeleted)
}

// failurePath decides where a failed profile request lands. Access
// failures (bad id, someone else's id, missing account) go home; anything
// else goes back to the profile.
func (h *UserHandler) failurePath(err error, rawID string) string {
	var appErr *apperror.AppError
	switch {
	case errors.Is(err, apperror.ErrForbidden), errors.Is(err, apperror.ErrNotFound):
		return "/"
	case errors.As(err, &appErr) && errors.Is(err, apperror.ErrValidation) && appErr.Field == "id":
		return "/"
	default:
		return "/user/" + rawID
	}
}
