package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"authix.org/internal/auth"
	"authix.org/internal/auth/authtest"
)

const (
	testAccessSecret  = "access-secret-access-secret-0001"
	testRefreshSecret = "refresh-secret-refresh-secret-01"
)

type testAPI struct {
	t       *testing.T
	store   *authtest.Store
	handler http.Handler
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()
	store := authtest.Seeded()
	tokens, err := auth.NewTokens(testAccessSecret, testRefreshSecret)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	svc, err := auth.NewService(store, tokens)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	rbac, err := auth.NewRBACService(store)
	if err != nil {
		t.Fatalf("rbac: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc, rbac, opts...)
	return &testAPI{t: t, store: store, handler: api.Handler()}
}

type request struct {
	method  string
	path    string
	body    any
	token   string
	cookies []*http.Cookie
}

func (a *testAPI) do(req request) *httptest.ResponseRecorder {
	a.t.Helper()
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			a.t.Fatalf("marshal body: %v", err)
		}
	}
	r := httptest.NewRequest(req.method, req.path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	for _, c := range req.cookies {
		r.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, r)
	return rr
}

type session struct {
	userID  string
	access  string
	refresh *http.Cookie
}

func (a *testAPI) signup(username, email string) session {
	a.t.Helper()
	rr := a.do(request{method: http.MethodPost, path: "/signup", body: map[string]string{
		"name":     strings.ToUpper(username[:1]) + username[1:],
		"username": username,
		"email":    email,
		"password": "correct-horse",
	}})
	if rr.Code != http.StatusCreated {
		a.t.Fatalf("signup %s: expected 201, got %d: %s", username, rr.Code, rr.Body.String())
	}
	body := decode[sessionResponse](a.t, rr)
	return session{userID: body.User.ID, access: body.AccessToken, refresh: refreshCookie(a.t, rr)}
}

func (a *testAPI) grant(userID, roleID string) {
	a.t.Helper()
	if _, err := a.store.AssignRole(context.Background(), userID, roleID, ""); err != nil {
		a.t.Fatalf("assign role: %v", err)
	}
}

func refreshCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "jwt" {
			return c
		}
	}
	t.Fatalf("expected jwt cookie, got %v", rr.Header().Values("Set-Cookie"))
	return nil
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return v
}

func TestSignupLoginAndDuplicateEmail(t *testing.T) {
	api := newTestAPI(t)
	s := api.signup("alice", "a@x.com")
	if s.access == "" || s.userID == "" {
		t.Fatalf("expected access token and user id, got %+v", s)
	}
	if !s.refresh.HttpOnly || s.refresh.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected refresh cookie attributes: %+v", s.refresh)
	}
	if s.refresh.Secure {
		t.Fatalf("cookie should not be secure outside production")
	}

	rr := api.do(request{method: http.MethodPost, path: "/login", body: map[string]string{
		"usernameOrEmail": "alice", "password": "correct-horse",
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode[sessionResponse](t, rr)
	if body.Message != "Login successful" || body.User.Username != "alice" || body.AccessToken == "" {
		t.Fatalf("unexpected login body: %+v", body)
	}
	refreshCookie(t, rr)

	rr = api.do(request{method: http.MethodPost, path: "/login", body: map[string]string{
		"usernameOrEmail": "a@x.com", "password": "wrong-horse",
	}})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", rr.Code)
	}

	rr = api.do(request{method: http.MethodPost, path: "/login", body: map[string]string{
		"usernameOrEmail": "nobody", "password": "correct-horse",
	}})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", rr.Code)
	}

	rr = api.do(request{method: http.MethodPost, path: "/signup", body: map[string]string{
		"name": "Alice Two", "username": "alice2", "email": "a@x.com", "password": "correct-horse",
	}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("duplicate email: expected 400, got %d", rr.Code)
	}
	if got := decode[map[string]any](t, rr)["error"]; got != "Email already exists" {
		t.Fatalf("unexpected duplicate message: %v", got)
	}
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(request{method: http.MethodPost, path: "/signup", body: map[string]string{
		"name": "Bob", "username": "bob", "email": "not-an-email", "password": "correct-horse",
	}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decode[map[string]any](t, rr)["error"]; got != "email must be a valid email" {
		t.Fatalf("unexpected validation message: %v", got)
	}
}

func TestDisabledAccountCannotLogin(t *testing.T) {
	api := newTestAPI(t)
	s := api.signup("carol", "c@x.com")
	inactive := false
	if _, err := api.store.UpdateUser(context.Background(), s.userID, auth.UserUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	rr := api.do(request{method: http.MethodPost, path: "/login", body: map[string]string{
		"usernameOrEmail": "carol", "password": "correct-horse",
	}})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestGateRejectsMissingAndInvalidTokens(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(request{method: http.MethodGet, path: "/profile"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rr.Code)
	}
	if decode[map[string]any](t, rr)["error"] == "" {
		t.Fatalf("expected error message")
	}

	rr = api.do(request{method: http.MethodGet, path: "/profile", token: "not-a-jwt"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rr.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/profile", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("basic scheme: expected 401, got %d", rec.Code)
	}

	s := api.signup("dave", "d@x.com")
	rr = api.do(request{method: http.MethodGet, path: "/profile", token: s.refresh.Value})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token as access token: expected 401, got %d", rr.Code)
	}
}

func TestProfileFromCookieFallback(t *testing.T) {
	api := newTestAPI(t)
	s := api.signup("erin", "e@x.com")

	rr := api.do(request{method: http.MethodGet, path: "/profile", cookies: []*http.Cookie{
		{Name: accessTokenCookie, Value: s.access},
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	profile := decode[auth.Profile](t, rr)
	if profile.Username != "erin" || len(profile.Roles) != 1 || profile.Roles[0].Name != "user" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	perms := profile.Roles[0].Permissions
	if len(perms) != 1 || perms[0].Name != "posts.read" || perms[0].Resource != "posts" {
		t.Fatalf("unexpected role permissions: %+v", perms)
	}
}

func TestRolesDeleteScenario(t *testing.T) {
	api := newTestAPI(t)
	s := api.signup("frank", "f@x.com")

	rr := api.do(request{method: http.MethodDelete, path: "/admin/roles/" + authtest.EditorRoleID, token: s.access})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("without permission: expected 403, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["error"] != "Forbidden" || body["message"] != "You do not have the required permission: roles.delete" {
		t.Fatalf("unexpected forbidden body: %v", body)
	}

	api.grant(s.userID, authtest.AdminRoleID)

	writes := api.store.Writes()
	rr = api.do(request{method: http.MethodDelete, path: "/admin/roles/" + authtest.AdminRoleID, token: s.access})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("system role: expected 403, got %d", rr.Code)
	}
	if got := decode[map[string]any](t, rr)["error"]; got != "Cannot delete System Role" {
		t.Fatalf("unexpected system message: %v", got)
	}
	if api.store.Writes() != writes {
		t.Fatalf("system guard let a write through")
	}

	rr = api.do(request{method: http.MethodDelete, path: "/admin/roles/" + authtest.EditorRoleID, token: s.access})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("editor role: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = api.do(request{method: http.MethodDelete, path: "/admin/roles/" + authtest.EditorRoleID, token: s.access})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestPermissionGrantedMidSessionTakesEffect(t *testing.T) {
	api := newTestAPI(t)
	s := api.signup("gina", "g@x.com")

	rr := api.do(request{method: http.MethodGet, path: "/admin/users", token: s.access})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before assignment, got %d", rr.Code)
	}
	api.grant(s.userID, authtest.EditorRoleID)
	rr = api.do(request{method: http.MethodGet, path: "/admin/users", token: s.access})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after assignment with the same token, got %d", rr.Code)
	}
	users := decode[[]auth.UserSummary](t, rr)
	if len(users) != 1 || len(users[0].Roles) != 2 {
		t.Fatalf("unexpected users listing: %+v", users)
	}
}

func TestDeletedCallerIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	s := api.signup("hank", "h@x.com")
	if err := api.store.DeleteUser(context.Background(), s.userID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rr := api.do(request{method: http.MethodGet, path: "/admin/roles", token: s.access})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if got := decode[map[string]any](t, rr)["error"]; got != "User not found" {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestAdminCreateRoleAndAssign(t *testing.T) {
	api := newTestAPI(t)
	admin := api.signup("ivan", "i@x.com")
	api.grant(admin.userID, authtest.AdminRoleID)
	member := api.signup("judy", "j@x.com")

	rr := api.do(request{method: http.MethodPost, path: "/admin/roles", token: admin.access, body: map[string]any{
		"name":          "moderator",
		"description":   "Moderates posts",
		"level":         30,
		"permissionIds": []string{api.store.PermissionID("posts.update"), api.store.PermissionID("posts.delete")},
	}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create role: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	role := decode[auth.Role](t, rr)
	if len(role.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %+v", role.Permissions)
	}

	rr = api.do(request{method: http.MethodPost, path: "/admin/roles", token: admin.access, body: map[string]any{
		"name":          "broken",
		"permissionIds": []string{"01J9MISSING000000000000000"},
	}})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown permission: expected 404, got %d", rr.Code)
	}
	roles, _ := api.store.ListRoles(context.Background())
	for _, r := range roles {
		if r.Name == "broken" {
			t.Fatalf("role with unknown permission was persisted")
		}
	}

	rr = api.do(request{method: http.MethodPost, path: "/admin/assign-role", token: admin.access, body: map[string]any{
		"userId": member.userID, "roleId": role.ID,
	}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("assign: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = api.do(request{method: http.MethodGet, path: "/admin/users/" + member.userID + "/permissions", token: admin.access})
	if rr.Code != http.StatusOK {
		t.Fatalf("permissions: expected 200, got %d", rr.Code)
	}
	got := decode[struct {
		Permissions []string `json:"permissions"`
	}](t, rr)
	want := []string{"posts.delete", "posts.read", "posts.update"}
	if strings.Join(got.Permissions, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected effective set: %v", got.Permissions)
	}

	rr = api.do(request{method: http.MethodDelete, path: "/admin/users/" + member.userID + "/roles/" + role.ID, token: admin.access})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("unassign: expected 204, got %d", rr.Code)
	}
}

func TestAdminAssignRoleRequiresPayload(t *testing.T) {
	api := newTestAPI(t)
	admin := api.signup("kate", "k@x.com")
	api.grant(admin.userID, authtest.AdminRoleID)

	rr := api.do(request{method: http.MethodPost, path: "/admin/assign-role", token: admin.access, body: map[string]any{"userId": ""}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTokenEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(request{method: http.MethodPost, path: "/token"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: expected 401, got %d", rr.Code)
	}

	rr = api.do(request{method: http.MethodPost, path: "/token", cookies: []*http.Cookie{{Name: "jwt", Value: "forged"}}})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("forged cookie: expected 403, got %d", rr.Code)
	}

	s := api.signup("liam", "l@x.com")
	rr = api.do(request{method: http.MethodPost, path: "/token", cookies: []*http.Cookie{s.refresh}})
	if rr.Code != http.StatusOK {
		t.Fatalf("valid cookie: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if decode[tokenResponse](t, rr).AccessToken == "" {
		t.Fatalf("expected access token")
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("refresh cookie must not change without rotation")
	}

	rr = api.do(request{method: http.MethodPost, path: "/login", body: map[string]string{
		"usernameOrEmail": "liam", "password": "correct-horse",
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rr.Code)
	}
	rr = api.do(request{method: http.MethodPost, path: "/token", cookies: []*http.Cookie{s.refresh}})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("superseded cookie: expected 403, got %d", rr.Code)
	}
}

func TestLogoutAlwaysNoContent(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(request{method: http.MethodPost, path: "/logout"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("no cookie: expected 204, got %d", rr.Code)
	}

	s := api.signup("mona", "m@x.com")
	rr = api.do(request{method: http.MethodPost, path: "/logout", cookies: []*http.Cookie{s.refresh}})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rr.Code)
	}
	if c := refreshCookie(t, rr); c.MaxAge >= 0 || c.Value != "" {
		t.Fatalf("expected cleared cookie, got %+v", c)
	}
	if api.store.RefreshToken(s.userID) != "" {
		t.Fatalf("refresh token not cleared")
	}

	rr = api.do(request{method: http.MethodPost, path: "/logout", cookies: []*http.Cookie{s.refresh}})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("second logout: expected 204, got %d", rr.Code)
	}
	rr = api.do(request{method: http.MethodPost, path: "/token", cookies: []*http.Cookie{s.refresh}})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("token after logout: expected 403, got %d", rr.Code)
	}
}

func TestUnknownRouteIsJSON(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(request{method: http.MethodGet, path: "/nope"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReflectsDatabase(t *testing.T) {
	cases := map[string]struct {
		ping error
		code int
	}{
		"up":   {nil, http.StatusOK},
		"down": {errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ready := ReadyProbe{DB: pingerFunc(func(context.Context) error { return tc.ping })}
			rr := httptest.NewRecorder()
			New(ready, "test", nil, nil).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAdminCreateUserWithRoles(t *testing.T) {
	api := newTestAPI(t)
	admin := api.signup("lena", "l@x.com")
	api.grant(admin.userID, authtest.AdminRoleID)

	rr := api.do(request{method: http.MethodPost, path: "/admin/users", token: admin.access, body: map[string]any{
		"name":     "Max",
		"username": "max",
		"email":    "max@x.com",
		"password": "correct-horse",
		"bio":      "staff writer",
		"roleIds":  []string{authtest.EditorRoleID},
	}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[struct {
		ID  string `json:"id"`
		Bio string `json:"bio"`
	}](t, rr)
	if created.ID == "" || rr.Header().Get("Location") != "/admin/users/"+created.ID {
		t.Fatalf("unexpected create response: %+v location=%q", created, rr.Header().Get("Location"))
	}
	stored, err := api.store.GetUser(context.Background(), created.ID)
	if err != nil || stored.Bio != "staff writer" {
		t.Fatalf("bio not stored: %+v %v", stored, err)
	}

	rr = api.do(request{method: http.MethodGet, path: "/admin/users/" + created.ID + "/permissions", token: admin.access})
	got := decode[struct {
		Permissions []string `json:"permissions"`
	}](t, rr)
	want := "dashboard.read,posts.create,posts.delete,posts.read,posts.update,users.read"
	if strings.Join(got.Permissions, ",") != want {
		t.Fatalf("expected editor permissions, got %v", got.Permissions)
	}

	rr = api.do(request{method: http.MethodPost, path: "/admin/users", token: admin.access, body: map[string]any{
		"name":     "Nora",
		"username": "nora",
		"email":    "nora@x.com",
		"password": "correct-horse",
		"roleIds":  []string{"01J9MISSING000000000000000"},
	}})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown role: expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, err := api.store.FindUserByLogin(context.Background(), "nora"); err == nil {
		t.Fatalf("user persisted despite unknown role")
	}
}

func TestUpdateResolvesTargetBeforeBody(t *testing.T) {
	api := newTestAPI(t)
	admin := api.signup("omar", "o@x.com")
	api.grant(admin.userID, authtest.AdminRoleID)
	tooLong := map[string]any{"name": strings.Repeat("x", 60)}

	cases := []struct {
		name string
		path string
		body any
		code int
	}{
		{"unknown role", "/admin/roles/01J9MISSING000000000000000", tooLong, http.StatusNotFound},
		{"unknown role permissions", "/admin/roles/01J9MISSING000000000000000/permissions", map[string]any{"bogus": true}, http.StatusNotFound},
		{"unknown user", "/admin/users/01J9MISSING000000000000000", map[string]any{"email": "nope"}, http.StatusNotFound},
		{"unknown permission", "/admin/permissions/01J9MISSING000000000000000", map[string]any{"bogus": true}, http.StatusNotFound},
		{"system role", "/admin/roles/" + authtest.AdminRoleID, tooLong, http.StatusForbidden},
		{"editable role", "/admin/roles/" + authtest.EditorRoleID, tooLong, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := api.do(request{method: http.MethodPut, path: tc.path, token: admin.access, body: tc.body})
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}
