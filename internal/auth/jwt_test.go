package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, 0)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// flipBit flips one bit of the first signature byte and re-encodes it.
func flipBit(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts, want 3", len(parts))
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	sig[0] ^= 0x01
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", 0); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	ts := newTestTokenService(t)
	if ts.TTL() != 2*time.Hour {
		t.Errorf("TTL() = %v, want 2h", ts.TTL())
	}
}

// =========================================================================
// ISSUE / VERIFY
// =========================================================================

func TestVerify_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue(42, "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.ID != 42 || id.Username != "alice" {
		t.Errorf("Verify() = %+v, want id 42 / alice", id)
	}
	if id.TokenID == "" {
		t.Error("Verify() returned an empty token id")
	}
	if d := time.Until(id.ExpiresAt); d < 119*time.Minute || d > 2*time.Hour {
		t.Errorf("ExpiresAt is %v from now, want ~2h", d)
	}
}

func TestIssue_UniqueTokenIDs(t *testing.T) {
	ts := newTestTokenService(t)

	a, _ := ts.Issue(1, "alice")
	b, _ := ts.Issue(1, "alice")

	idA, _ := ts.Verify(a)
	idB, _ := ts.Verify(b)
	if idA.TokenID == idB.TokenID {
		t.Error("two tokens share a token id")
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueWithDuration(1, "alice", -time.Second)
	if err != nil {
		t.Fatalf("IssueWithDuration() error = %v", err)
	}

	_, err = ts.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_ExpiresAfterTTL(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Issue(1, "alice")

	ts.now = func() time.Time { return time.Now().Add(2*time.Hour + time.Minute) }

	if _, err := ts.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() after TTL: err = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_SingleBitFlip(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Issue(1, "alice")

	_, err := ts.Verify(flipBit(t, token))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("correct-secret-32-chars-long!!!!", 0)
	ts2, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", 0)

	token, _ := ts1.Issue(1, "alice")

	if _, err := ts2.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() with other secret: err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	ts := newTestTokenService(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ts.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestVerify_RejectsOtherIssuer(t *testing.T) {
	ts := newTestTokenService(t)

	c := jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))

	if _, err := ts.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	ts := newTestTokenService(t)

	c := jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodNone, c).SignedString(jwt.UnsafeAllowNoneSignatureType)

	if _, err := ts.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsNonNumericSubject(t *testing.T) {
	ts := newTestTokenService(t)

	c := jwt.RegisteredClaims{
		Subject:   "user-abc",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))

	if _, err := ts.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}
