// Package auth issues and verifies session tokens, hashes passwords, and
// guards routes that need a signed-in user.
//
// SESSION FLOW:
//  1. Login or signup succeeds → TokenService.Issue signs a JWT for the user
//  2. The session package stores it in the "jwt" cookie (2h, HttpOnly)
//  3. On each protected request the Guard reads the cookie, verifies the
//     token and puts the Identity in the request context
//  4. Handlers read it back with IdentityFromContext
//
// Tokens are self-contained: Verify never touches the user store. A deleted
// user's token stays valid until it expires unless a revocation.Store is
// configured.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	// DefaultTokenTTL matches the session cookie lifetime.
	DefaultTokenTTL = 2 * time.Hour

	issuer = "geosocial"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Identity is the verified subject of a token.
type Identity struct {
	ID        int64
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. The secret comes from
// configuration and must be at least 16 characters. A zero ttl means
// DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of tokens returned by Issue.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// claims is the JWT payload: "sub" holds the decimal user id and
// "username" the username at issue time.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issue signs a token for the user, valid for the service TTL.
func (s *TokenService) Issue(id int64, username string) (string, error) {
	return s.IssueWithDuration(id, username, s.ttl)
}

// IssueWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to get an already expired token.
func (s *TokenService) IssueWithDuration(id int64, username string, d time.Duration) (string, error) {
	now := s.now()

	c := claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   strconv.FormatInt(id, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry, and returns the
// identity the token was issued for.
//
// Errors are ErrTokenExpired or ErrInvalidToken (possibly wrapping the
// parser's reason).
func (s *TokenService) Verify(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}

	return Identity{
		ID:        id,
		Username:  c.Username,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
