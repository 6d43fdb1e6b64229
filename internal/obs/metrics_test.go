package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/login":                                "/login",
		"/admin/users":                          "/admin/users",
		"/admin/users/01J9ABC":                  "/admin/users/:id",
		"/admin/users/01J9ABC/permissions":      "/admin/users/:id/permissions",
		"/admin/users/01J9ABC/roles/01J9R":      "/admin/users/:id/roles/:roleId",
		"/admin/users/01J9ABC/extra":            "/admin/users/01J9ABC/extra",
		"/admin/roles/01J9R?x=1":                "/admin/roles/:id",
		"/admin/roles/01J9R/permissions":        "/admin/roles/:id/permissions",
		"/admin/permissions/01J9P":              "/admin/permissions/:id",
		"/admin/assign-role":                    "/admin/assign-role",
		"/admin/permissions/01J9P/unknown/deep": "/admin/permissions/01J9P/unknown/deep",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/admin/roles/:id", "418"))
	for _, id := range []string{"a", "b"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/roles/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/admin/roles/:id", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests counted, got %v", after-before)
	}
}

func TestObserveAuthz(t *testing.T) {
	before := testutil.ToFloat64(authzDecisions.WithLabelValues("roles.delete", "denied"))
	ObserveAuthz("roles.delete", false)
	if got := testutil.ToFloat64(authzDecisions.WithLabelValues("roles.delete", "denied")) - before; got != 1 {
		t.Fatalf("expected one denied decision, got %v", got)
	}
}

func TestLogRequestLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	LogRequest(http.StatusInternalServerError, logrus.Fields{"request_id": "rid-1", "status": 500})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v (%s)", err, buf.String())
	}
	if entry["level"] != "error" || entry["request_id"] != "rid-1" || entry["msg"] != "http request" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts field: %v", entry)
	}
}

func TestResolveCommitKeepsExplicitValue(t *testing.T) {
	if got := resolveCommit("3f2a9c1"); got != "3f2a9c1" {
		t.Fatalf("expected explicit commit, got %q", got)
	}
	if got := resolveCommit(""); got == "" {
		t.Fatalf("expected a fallback commit label")
	}
}
