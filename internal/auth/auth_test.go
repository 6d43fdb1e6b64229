package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessSecret  = "access-secret-access-secret-0001"
	refreshSecret = "refresh-secret-refresh-secret-01"
)

func newTestTokens(t *testing.T, opts ...TokenOption) *Tokens {
	t.Helper()
	tokens, err := NewTokens(accessSecret, refreshSecret, opts...)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return tokens
}

func TestTokensPairRoundTrip(t *testing.T) {
	tokens := newTestTokens(t, WithIssuer("test-issuer"))
	id := Identity{ID: "01J9USER", Username: "alice", Email: "a@x.com"}

	pair, err := tokens.Pair(id)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatalf("access and refresh tokens must differ")
	}
	if got := pair.RefreshExpiresAt.Sub(pair.AccessExpiresAt); got < 6*24*time.Hour {
		t.Fatalf("refresh token should outlive access token by days, got %v", got)
	}

	claims, err := tokens.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.Identity() != id {
		t.Fatalf("unexpected identity: %+v", claims.Identity())
	}
	if claims.Issuer != "test-issuer" || claims.Subject != id.ID || claims.ID == "" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	if _, err := tokens.ParseRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("ParseRefresh: %v", err)
	}
}

func TestTokensRejectCrossUse(t *testing.T) {
	tokens := newTestTokens(t)
	pair, err := tokens.Pair(Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if _, err := tokens.ParseAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
	if _, err := tokens.ParseRefresh(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
}

func TestTokensRejectExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	signer := newTestTokens(t, WithTokenClock(func() time.Time { return past }))
	verifier := newTestTokens(t)

	access, _, err := signer.Access(Identity{ID: "u1"})
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	res := verifier.Authenticate(access)
	if res.Authenticated() {
		t.Fatalf("expired token authenticated")
	}
	if !errors.Is(res.Err, ErrAuthenticationRequired) {
		t.Fatalf("expected authentication error, got %v", res.Err)
	}
}

func TestTokensRejectUnsignedAndForeignTokens(t *testing.T) {
	tokens := newTestTokens(t)
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := tokens.ParseAccess(none); err == nil {
		t.Fatalf("alg=none token accepted")
	}

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("some-other-secret-some-other-sec"))
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}
	if _, err := tokens.ParseAccess(foreign); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}
}

func TestAuthenticateEmptyToken(t *testing.T) {
	res := newTestTokens(t).Authenticate("  ")
	if res.Authenticated() || !errors.Is(res.Err, ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required, got %v", res.Err)
	}
	if msg, _ := PublicMessage(res.Err); msg != "Access token required" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestNewTokensValidatesSecrets(t *testing.T) {
	if _, err := NewTokens("", refreshSecret); err == nil {
		t.Fatalf("expected error for missing access secret")
	}
	if _, err := NewTokens(accessSecret, accessSecret); err == nil {
		t.Fatalf("expected error for identical secrets")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatalf("expected no identity")
	}
	ctx = ContextWithIdentity(ctx, Identity{ID: "u1", Username: "alice"})

	id, ok := UserIDFromContext(ctx)
	if !ok || id != "u1" {
		t.Fatalf("unexpected user id %q", id)
	}
	if _, ok := IdentityFromContext(ContextWithIdentity(context.Background(), Identity{})); ok {
		t.Fatalf("empty identity should not count as authenticated")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct-horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	for _, pw := range []string{"", strings.Repeat("x", 73)} {
		if _, err := HashPassword(pw); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("HashPassword(len %d): expected invalid input, got %v", len(pw), err)
		}
	}
	if err := VerifyPassword("", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for an account without a hash, got %v", err)
	}
}
