// Package session moves the session token and one-shot status messages
// between server and browser in cookies.
package session

import (
	"net/http"
	"net/url"
	"time"
)

const (
	TokenCookie   = "jwt"
	MessageCookie = "message"

	DefaultTokenTTL   = 2 * time.Hour
	DefaultMessageTTL = 6 * time.Second
)

// Cookies writes and reads the "jwt" and "message" cookies.
//
// The token cookie is HttpOnly and SameSite=Strict, Secure when Secure is
// set (production), and lives as long as the token. The message cookie is
// HttpOnly and lives a few seconds, long enough to survive one redirect.
type Cookies struct {
	Secure     bool
	TokenTTL   time.Duration
	MessageTTL time.Duration
}

func New(secure bool, tokenTTL time.Duration) *Cookies {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Cookies{
		Secure:     secure,
		TokenTTL:   tokenTTL,
		MessageTTL: DefaultMessageTTL,
	}
}

func (c *Cookies) SetToken(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.TokenTTL / time.Second),
		Expires:  time.Now().Add(c.TokenTTL),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearToken expires the token cookie. It is safe to call when no cookie
// was set.
func (c *Cookies) ClearToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Token returns the raw token from the request, if any.
func (c *Cookies) Token(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(TokenCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// SetMessage stores msg for the next page render. The value is
// query-escaped since cookie values cannot carry spaces or quotes.
func (c *Cookies) SetMessage(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     MessageCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   int(c.MessageTTL / time.Second),
		HttpOnly: true,
	})
}

// PopMessage returns the pending message and clears the cookie. Without a
// cookie it falls back to the "message" query parameter.
func (c *Cookies) PopMessage(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(MessageCookie)
	if err != nil {
		return r.URL.Query().Get(MessageCookie)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     MessageCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	msg, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return cookie.Value
	}
	return msg
}
