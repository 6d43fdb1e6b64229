// Package client is a Go client for the authix HTTP API. It keeps the
// refresh cookie in a cookie jar and the access token in memory, and can
// cache the caller's profile for a short time.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"authix.org/internal/auth"
)

const (
	profileKey        = "profile"
	defaultProfileTTL = 30 * time.Second
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authix: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to one authix server on behalf of one session.
type Client struct {
	baseURL string
	http    *http.Client

	mu          sync.Mutex
	accessToken string

	profiles *lru.LRU[string, auth.Profile]
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client. A jar is added when missing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithProfileTTL sets how long Profile answers from the cache. Zero or less
// disables caching.
func WithProfileTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.profiles = nil
			return
		}
		c.profiles = lru.NewLRU[string, auth.Profile](1, nil, ttl)
	}
}

// New builds a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		profiles: lru.NewLRU[string, auth.Profile](1, nil, defaultProfileTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

// SignupRequest is the body of POST /signup.
type SignupRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Message     string          `json:"message"`
	User        auth.PublicUser `json:"user"`
	AccessToken string          `json:"accessToken"`
}

// Signup creates an account and starts a session for it.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (auth.PublicUser, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/signup", req, &resp); err != nil {
		return auth.PublicUser{}, err
	}
	c.startSession(resp.AccessToken)
	return resp.User, nil
}

// Login starts a session. Any cached profile belongs to the previous
// identity and is dropped.
func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (auth.PublicUser, error) {
	var resp sessionResponse
	body := map[string]string{"usernameOrEmail": usernameOrEmail, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return auth.PublicUser{}, err
	}
	c.startSession(resp.AccessToken)
	return resp.User, nil
}

// Refresh exchanges the refresh cookie for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/token", nil, &resp); err != nil {
		return err
	}
	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.mu.Unlock()
	return nil
}

// Logout ends the session on the server and forgets local state.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, nil)
	c.startSession("")
	return err
}

// AccessToken returns the current access token, if any.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// Profile returns the caller's profile, from the cache when fresh.
func (c *Client) Profile(ctx context.Context) (auth.Profile, error) {
	if c.profiles != nil {
		if p, ok := c.profiles.Get(profileKey); ok {
			return p, nil
		}
	}
	var p auth.Profile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
		return auth.Profile{}, err
	}
	if c.profiles != nil {
		c.profiles.Add(profileKey, p)
	}
	return p, nil
}

// InvalidateProfile drops the cached profile.
func (c *Client) InvalidateProfile() {
	if c.profiles != nil {
		c.profiles.Purge()
	}
}

// ListRoles returns every role with its permissions.
func (c *Client) ListRoles(ctx context.Context) ([]auth.Role, error) {
	var roles []auth.Role
	if err := c.do(ctx, http.MethodGet, "/admin/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// UserPermissions returns the effective permission names of userID.
func (c *Client) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	var resp struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/users/"+userID+"/permissions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Permissions, nil
}

// AssignRole gives userID the role.
func (c *Client) AssignRole(ctx context.Context, userID, roleID string) error {
	defer c.InvalidateProfile()
	body := map[string]string{"userId": userID, "roleId": roleID}
	return c.do(ctx, http.MethodPost, "/admin/assign-role", body, nil)
}

// RemoveRole takes the role away from userID.
func (c *Client) RemoveRole(ctx context.Context, userID, roleID string) error {
	defer c.InvalidateProfile()
	return c.do(ctx, http.MethodDelete, "/admin/users/"+userID+"/roles/"+roleID, nil, nil)
}

// SetRolePermissions replaces the permission set of roleID.
func (c *Client) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	defer c.InvalidateProfile()
	if permissionIDs == nil {
		permissionIDs = []string{}
	}
	body := map[string][]string{"permissionIds": permissionIDs}
	return c.do(ctx, http.MethodPut, "/admin/roles/"+roleID+"/permissions", body, nil)
}

func (c *Client) startSession(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
	c.InvalidateProfile()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
