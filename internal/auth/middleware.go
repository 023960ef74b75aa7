package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/geosocial/internal/revocation"
	"github.com/sakif/geosocial/internal/session"
)

// State is a step of the per-request guard state machine:
//
//	NoToken ──cookie present──▶ TokenPresentUnverified ──verify ok──▶ Verified
//	   │                                  │
//	   └──────────────▶ Rejected ◀────────┘ (invalid, expired, revoked)
type State int

const (
	NoToken State = iota
	TokenPresentUnverified
	Verified
	Rejected
)

func (s State) String() string {
	switch s {
	case NoToken:
		return "no_token"
	case TokenPresentUnverified:
		return "token_present_unverified"
	case Verified:
		return "verified"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNoToken      = errors.New("auth: no session token")
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// Decision is the outcome of Guard.Evaluate. State is always Verified or
// Rejected; From records the state the request was rejected in.
type Decision struct {
	State    State
	From     State
	Identity Identity
	Err      error
}

// Verifier is satisfied by *TokenService.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Guard decides, from the request's cookies alone, whether a request comes
// from a signed-in user. It never reads the user store.
type Guard struct {
	tokens   Verifier
	cookies  *session.Cookies
	denylist revocation.Store
	logger   *slog.Logger
}

// NewGuard builds a Guard. A nil denylist means tokens are never revoked.
func NewGuard(tokens Verifier, cookies *session.Cookies, denylist revocation.Store, logger *slog.Logger) *Guard {
	if denylist == nil {
		denylist = revocation.Noop{}
	}
	return &Guard{tokens: tokens, cookies: cookies, denylist: denylist, logger: logger}
}

// Evaluate runs the state machine for r.
func (g *Guard) Evaluate(r *http.Request) Decision {
	raw, ok := g.cookies.Token(r)
	if !ok {
		return Decision{State: Rejected, From: NoToken, Err: ErrNoToken}
	}

	// TokenPresentUnverified
	identity, err := g.tokens.Verify(raw)
	if err != nil {
		return Decision{State: Rejected, From: TokenPresentUnverified, Err: err}
	}

	revoked, err := g.denylist.IsRevoked(r.Context(), identity.TokenID)
	if err != nil {
		// Fail closed: a token that cannot be checked is not trusted.
		return Decision{State: Rejected, From: TokenPresentUnverified, Err: fmt.Errorf("auth: checking revocation: %w", err)}
	}
	if revoked {
		return Decision{State: Rejected, From: TokenPresentUnverified, Err: ErrTokenRevoked}
	}

	return Decision{State: Verified, From: TokenPresentUnverified, Identity: identity}
}

// RequireSession protects page routes. Rejected requests get a message
// cookie and a 303 redirect to loginPath; the wrapped handler never runs.
func (g *Guard) RequireSession(loginPath, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Evaluate(r)
			if d.State != Verified {
				g.logRejection(r, d)
				if d.From != NoToken {
					g.cookies.ClearToken(w)
				}
				g.cookies.SetMessage(w, message)
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), d.Identity)))
		})
	}
}

// RequireAPISession protects JSON routes and answers rejections with 401.
func (g *Guard) RequireAPISession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Evaluate(r)
			if d.State != Verified {
				g.logRejection(r, d)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), d.Identity)))
		})
	}
}

// OptionalSession attaches the identity when the request carries a valid
// session and otherwise lets it through unchanged.
func (g *Guard) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := g.Evaluate(r); d.State == Verified {
			r = r.WithContext(WithIdentity(r.Context(), d.Identity))
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) logRejection(r *http.Request, d Decision) {
	level := slog.LevelDebug
	if d.From != NoToken {
		level = slog.LevelInfo
	}
	g.logger.Log(r.Context(), level, "session rejected",
		slog.String("path", r.URL.Path),
		slog.String("state", d.From.String()),
		slog.Any("reason", d.Err),
	)
}

// contextKey is unexported so no other package can read or overwrite the
// identity.
type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity attached by the guard.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.ID > 0
}
