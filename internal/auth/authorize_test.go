package auth

import (
	"context"
	"errors"
	"testing"
)

type stubSource struct {
	userPermissionsFn func(context.Context, string) ([]string, error)
}

func (s stubSource) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	return s.userPermissionsFn(ctx, userID)
}

func (s stubSource) UserRoles(context.Context, string) ([]Role, error) { return nil, nil }

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet("users.read", " ", "posts.read", "users.read")
	if len(set) != 2 || !set.Has("users.read") || set.Has("users.delete") {
		t.Fatalf("unexpected set: %v", set)
	}
	names := set.Names()
	if len(names) != 2 || names[0] != "posts.read" || names[1] != "users.read" {
		t.Fatalf("names not sorted: %v", names)
	}
}

func TestResolverAuthorize(t *testing.T) {
	calls := 0
	r, err := NewResolver(stubSource{userPermissionsFn: func(_ context.Context, userID string) ([]string, error) {
		calls++
		if userID != "u1" {
			return nil, NotFound(EntityUser)
		}
		return []string{"roles.read"}, nil
	}})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	res, err := r.Authorize(context.Background(), "u1", "roles.read")
	if err != nil || !res.Allowed || res.Err() != nil {
		t.Fatalf("expected allowed, got %+v, %v", res, err)
	}

	res, err = r.Authorize(context.Background(), "u1", "roles.delete")
	if err != nil || res.Allowed {
		t.Fatalf("expected denied, got %+v, %v", res, err)
	}
	denial := res.Err()
	if !errors.Is(denial, ErrForbidden) || denial.Error() != "You do not have the required permission: roles.delete" {
		t.Fatalf("unexpected denial: %v", denial)
	}

	if _, err := r.Authorize(context.Background(), "ghost", "roles.read"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected a lookup per call, got %d", calls)
	}

	if _, err := r.Authorize(context.Background(), "u1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty permission, got %v", err)
	}
}

func TestGuardSystem(t *testing.T) {
	if err := guardSystem(EntityRole, false, opDelete); err != nil {
		t.Fatalf("non-system row rejected: %v", err)
	}
	err := guardSystem(EntityPermission, true, opEdit)
	if !errors.Is(err, ErrSystemEntity) || err.Error() != "Cannot edit System Permission" {
		t.Fatalf("unexpected guard error: %v", err)
	}
}

func TestParsePermissionName(t *testing.T) {
	r, a, err := ParsePermissionName(" Users.Read ")
	if err != nil || r != ResourceUsers || a != ActionRead {
		t.Fatalf("unexpected parse: %q %q %v", r, a, err)
	}
	for _, bad := range []string{"users", "users.", ".read", "widgets.read", "users.publish"} {
		if _, _, err := ParsePermissionName(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected %q to be rejected, got %v", bad, err)
		}
	}
	if n := len(BuiltinPermissions()); n != 20 {
		t.Fatalf("expected 20 builtin permissions, got %d", n)
	}
}
