package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"authix.org/internal/ids"
)

const defaultSignupRole = "user"

// Service implements signup, login and the refresh token lifecycle.
type Service struct {
	creds  CredentialStore
	graph  PermissionSource
	tokens *Tokens
	now    func() time.Time

	defaultRole   string
	rotateRefresh bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithDefaultRole sets the role assigned at signup. An empty name disables
// automatic assignment.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) error {
		s.defaultRole = strings.TrimSpace(name)
		return nil
	}
}

// WithRefreshRotation makes Rotate also replace the refresh token.
func WithRefreshRotation(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.rotateRefresh = enabled
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store interface {
	CredentialStore
	PermissionSource
}, tokens *Tokens, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		creds:       store,
		graph:       store,
		tokens:      tokens,
		now:         time.Now,
		defaultRole: defaultSignupRole,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the issuer used by the service.
func (s *Service) Tokens() *Tokens { return s.tokens }

// SignupInput carries the fields accepted by POST /signup.
type SignupInput struct {
	Name     string
	Username string
	Email    string
	Password string
}

// Session is the result of a successful signup or login.
type Session struct {
	User   User
	Tokens TokenPair
}

// Signup creates the user, assigns the default role and persists the refresh
// token in a single write.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" {
		return Session{}, invalidInput("username is required")
	}
	if in.Name == "" {
		return Session{}, invalidInput("name is required")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return Session{}, invalidInput("valid email is required")
	}
	if in.Password == "" {
		return Session{}, invalidInput("password is required")
	}

	if err := s.ensureUnique(ctx, in.Username, in.Email, ""); err != nil {
		return Session{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	id := ids.New()
	pair, err := s.tokens.Pair(Identity{ID: id, Username: in.Username, Email: in.Email})
	if err != nil {
		return Session{}, err
	}
	user, err := s.creds.CreateUser(ctx, NewUser{
		ID:           id,
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		RefreshToken: pair.RefreshToken,
	}, s.defaultRole)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Tokens: pair}, nil
}

// Login verifies the password of the user identified by username or email
// and issues a new token pair, superseding any previous refresh token.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (Session, error) {
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" || password == "" {
		return Session{}, invalidInput("usernameOrEmail and password are required")
	}
	user, err := s.creds.FindUserByLogin(ctx, usernameOrEmail)
	if err != nil {
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, &Error{Kind: ErrAccountDisabled, Message: "Account disabled"}
	}
	pair, err := s.tokens.Pair(user.Identity())
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if err := s.creds.SaveRefreshToken(ctx, user.ID, pair.RefreshToken, &now); err != nil {
		return Session{}, err
	}
	user.RefreshToken = pair.RefreshToken
	user.LastLoginAt = &now
	return Session{User: user, Tokens: pair}, nil
}

// Rotation is the result of exchanging a refresh token. RefreshToken is
// empty unless refresh rotation is enabled.
type Rotation struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Rotate exchanges a refresh token for a new access token. The presented
// token must equal the value currently stored for its subject.
func (s *Service) Rotate(ctx context.Context, presented string) (Rotation, error) {
	claims, err := s.tokens.ParseRefresh(presented)
	if err != nil {
		return Rotation{}, err
	}
	user, err := s.creds.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Rotation{}, staleToken()
		}
		return Rotation{}, err
	}
	if user.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(presented)) != 1 {
		return Rotation{}, staleToken()
	}
	if !user.IsActive {
		return Rotation{}, &Error{Kind: ErrAccountDisabled, Message: "Account disabled"}
	}

	if !s.rotateRefresh {
		access, exp, err := s.tokens.Access(user.Identity())
		if err != nil {
			return Rotation{}, err
		}
		return Rotation{UserID: user.ID, AccessToken: access, AccessExpiresAt: exp}, nil
	}

	pair, err := s.tokens.Pair(user.Identity())
	if err != nil {
		return Rotation{}, err
	}
	swapped, err := s.creds.SwapRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
	if err != nil {
		return Rotation{}, err
	}
	if !swapped {
		return Rotation{}, staleToken()
	}
	return Rotation{
		UserID:           user.ID,
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// Revoke clears the stored refresh token of userID. Calling it again is a no-op.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return invalidInput("user id is required")
	}
	return s.creds.ClearRefreshToken(ctx, userID)
}

// Logout revokes whichever session currently holds refreshToken. Unknown or
// empty tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.creds.ClearRefreshTokenByValue(ctx, refreshToken)
}

// Authenticate verifies an access token. It performs no storage access.
func (s *Service) Authenticate(token string) AuthResult {
	return s.tokens.Authenticate(token)
}

// Profile returns the user's identity with roles and per-role permissions.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	user, err := s.creds.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	roles, err := s.graph.UserRoles(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	profile := Profile{
		ID:       user.ID,
		Username: user.Username,
		Name:     user.Name,
		Email:    user.Email,
		Avatar:   user.Avatar,
		Bio:      user.Bio,
		Roles:    make([]ProfileRole, 0, len(roles)),
	}
	for _, r := range roles {
		pr := ProfileRole{
			Name:        r.Name,
			Description: r.Description,
			Permissions: make([]ProfilePermission, 0, len(r.Permissions)),
		}
		for _, p := range r.Permissions {
			pr.Permissions = append(pr.Permissions, ProfilePermission{Name: p.Name, Resource: p.Resource, Action: p.Action})
		}
		profile.Roles = append(profile.Roles, pr)
	}
	return profile, nil
}

func (s *Service) ensureUnique(ctx context.Context, username, email, exceptID string) error {
	if username != "" {
		taken, err := s.creds.UsernameTaken(ctx, username, exceptID)
		if err != nil {
			return err
		}
		if taken {
			return conflict("Username already exists")
		}
	}
	if email != "" {
		taken, err := s.creds.EmailTaken(ctx, email, exceptID)
		if err != nil {
			return err
		}
		if taken {
			return conflict("Email already exists")
		}
	}
	return nil
}

func staleToken() error {
	return &Error{Kind: ErrTokenStale, Message: "Refresh token is invalid or has been revoked"}
}
