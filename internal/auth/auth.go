package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "authix"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	// Allow a small clock skew when validating exp, nbf and iat.
	clockSkew = 5 * time.Second
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{ID: c.UserID, Username: c.Username, Email: c.Email}
}

// TokenPair holds a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthResult is the outcome of verifying an access token.
type AuthResult struct {
	Identity Identity
	Err      error
}

// Authenticated reports whether the token was accepted.
func (r AuthResult) Authenticated() bool { return r.Err == nil }

// Tokens signs and verifies HS256 tokens. Access and refresh tokens use
// separate secrets so one can never be presented as the other.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
	}
}

// WithTokenClock overrides time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokens builds a token issuer from the process-wide secrets.
func NewTokens(accessSecret, refreshSecret string, opts ...TokenOption) (*Tokens, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, errMissingSecret
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	t := &Tokens{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        defaultIssuer,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Pair issues an access and refresh token for id.
func (t *Tokens) Pair(id Identity) (TokenPair, error) {
	access, accessExp, err := t.Access(id)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.sign(id, t.refreshSecret, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Access issues a standalone access token.
func (t *Tokens) Access(id Identity) (string, time.Time, error) {
	return t.sign(id, t.accessSecret, t.accessTTL)
}

// ParseAccess verifies an access token.
func (t *Tokens) ParseAccess(raw string) (*Claims, error) {
	return t.parse(raw, t.accessSecret)
}

// ParseRefresh verifies a refresh token's signature and expiry. It does not
// compare against the stored value.
func (t *Tokens) ParseRefresh(raw string) (*Claims, error) {
	return t.parse(raw, t.refreshSecret)
}

// Authenticate verifies an access token without touching storage.
func (t *Tokens) Authenticate(raw string) AuthResult {
	if strings.TrimSpace(raw) == "" {
		return AuthResult{Err: &Error{Kind: ErrAuthenticationRequired, Message: "Access token required"}}
	}
	claims, err := t.ParseAccess(raw)
	if err != nil {
		return AuthResult{Err: err}
	}
	return AuthResult{Identity: claims.Identity()}
}

// AccessTTL reports the configured access token lifetime.
func (t *Tokens) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (t *Tokens) RefreshTTL() time.Duration { return t.refreshTTL }

func (t *Tokens) sign(id Identity, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(id.ID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (t *Tokens) parse(raw string, secret []byte) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidToken()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(t.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, invalidToken()
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.UserID != claims.Subject {
		return nil, invalidToken()
	}
	return claims, nil
}

func invalidToken() error {
	return &Error{Kind: ErrInvalidToken, Message: "Invalid or expired token"}
}
