package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/ratelimit"
	"github.com/sakif/geosocial/internal/service"
	"github.com/sakif/geosocial/internal/session"
)

// Paths and messages of the sign-in flow.
const (
	LoginPath  = "/auth/login"
	SignupPath = "/auth/signup"

	MsgLoginSuccessful  = "Login Successful"
	MsgSignupSuccessful = "Successfully Created An Account"
	MsgLoggedOut        = "Logged out Successfully"
	MsgGitHubFailed     = "GitHub sign-in failed"

	oauthStateCookie = "oauth_state"
)

// AuthHandler serves login, signup, logout and the optional GitHub sign-in.
//
// Successful sign-ins set the jwt cookie and redirect to the user's profile.
// Failures redirect back to the form the request came from with a message.
type AuthHandler struct {
	auth    *service.AuthService
	github  *auth.GitHubProvider // nil when GitHub sign-in is off
	cookies *session.Cookies
	pages   *Pages
	logger  *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	github *auth.GitHubProvider,
	cookies *session.Cookies,
	pages *Pages,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:    authService,
		github:  github,
		cookies: cookies,
		pages:   pages,
		logger:  logger,
	}
}

// HTTP: GET /auth/login
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "login", PageData{Title: "Log in", GitHub: h.github != nil})
}

// HandleLogin checks the submitted credentials.
//
// HTTP: POST /auth/login (form: username, password)
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.redirectWithMessage(w, r, LoginPath, "Invalid form submission")
		return
	}

	result, err := h.auth.Login(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		h.pages.fail(w, r, LoginPath, err)
		return
	}

	h.signIn(w, r, result, MsgLoginSuccessful)
}

// HTTP: GET /auth/signup
func (h *AuthHandler) HandleSignupPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, "signup", PageData{Title: "Sign up", GitHub: h.github != nil})
}

// HandleSignup creates an account and signs it in.
//
// HTTP: POST /auth/signup (form: username, password, email, displayName)
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.redirectWithMessage(w, r, SignupPath, "Invalid form submission")
		return
	}

	result, err := h.auth.Signup(r.Context(), service.SignupInput{
		Username:    r.PostForm.Get("username"),
		Password:    r.PostForm.Get("password"),
		Email:       r.PostForm.Get("email"),
		DisplayName: r.PostForm.Get("displayName"),
	})
	if err != nil {
		h.pages.fail(w, r, SignupPath, err)
		return
	}

	h.signIn(w, r, result, MsgSignupSuccessful)
}

// HandleLogout clears the session cookie. With a denylist configured the
// token is revoked as well; a failure there is logged and the cookie is
// still cleared.
//
// HTTP: GET /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := h.cookies.Token(r); ok {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			h.logger.Warn("logout: revoking token failed", slog.String("error", err.Error()))
		}
	}

	h.cookies.ClearToken(w)
	h.pages.redirectWithMessage(w, r, "/", MsgLoggedOut)
}

// HandleThrottled answers a rate-limited form submission by sending the
// browser back to the form.
func (h *AuthHandler) HandleThrottled(w http.ResponseWriter, r *http.Request) {
	h.pages.redirectWithMessage(w, r, r.URL.Path, ratelimit.RejectMessage)
}

// HandleGitHubLogin redirects to GitHub's authorization page. The random
// state is kept in a short-lived cookie and checked on callback.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := auth.NewState()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes GitHub sign-in.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		h.pages.redirectWithMessage(w, r, LoginPath, MsgGitHubFailed)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/auth/github",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		h.pages.redirectWithMessage(w, r, LoginPath, MsgGitHubFailed)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.pages.redirectWithMessage(w, r, LoginPath, MsgGitHubFailed)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		h.pages.redirectWithMessage(w, r, LoginPath, MsgGitHubFailed)
		return
	}

	result, err := h.auth.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		h.pages.fail(w, r, LoginPath, err)
		return
	}

	h.signIn(w, r, result, MsgLoginSuccessful)
}

func (h *AuthHandler) signIn(w http.ResponseWriter, r *http.Request, result *service.AuthResult, message string) {
	h.cookies.SetToken(w, result.Token)
	h.pages.redirectWithMessage(w, r, ProfilePath(result.User.ID), message)
}

// ProfilePath is the page of user id.
func ProfilePath(id int64) string {
	return fmt.Sprintf("/user/%d", id)
}
