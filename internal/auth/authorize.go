package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PermissionSet is a user's effective permissions.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names, dropping blanks and duplicates.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set as a sorted slice.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AuthzResult is the outcome of a permission check.
type AuthzResult struct {
	Allowed    bool
	Permission string
}

// Err converts a denial into a forbidden error naming the permission.
func (r AuthzResult) Err() error {
	if r.Allowed {
		return nil
	}
	return &Error{
		Kind:    ErrForbidden,
		Message: fmt.Sprintf("You do not have the required permission: %s", r.Permission),
	}
}

// Resolver computes effective permission sets. It deliberately keeps no
// cache: every call reflects the current role graph.
type Resolver struct {
	source PermissionSource
}

// NewResolver constructs a Resolver over source.
func NewResolver(source PermissionSource) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("auth: permission source is required")
	}
	return &Resolver{source: source}, nil
}

// Resolve returns the union of permissions across all roles held by userID.
func (r *Resolver) Resolve(ctx context.Context, userID string) (PermissionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	names, err := r.source.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(names...), nil
}

// Authorize reports whether userID currently holds required.
func (r *Resolver) Authorize(ctx context.Context, userID, required string) (AuthzResult, error) {
	required = strings.TrimSpace(required)
	if required == "" {
		return AuthzResult{}, invalidInput("required permission is empty")
	}
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return AuthzResult{Permission: required}, err
	}
	return AuthzResult{Allowed: set.Has(required), Permission: required}, nil
}
