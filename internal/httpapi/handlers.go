package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"authix.org/internal/auth"
	"authix.org/internal/obs"
)

// Pinger is satisfied by the postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks dependencies before the service reports ready.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// CookieSettings shape the refresh token cookie.
type CookieSettings struct {
	Name     string
	Domain   string
	Path     string
	SameSite http.SameSite
	Secure   bool
}

// ParseSameSite maps strict, lax and none; anything else is strict.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	readyProbe ReadyProbe
	version    string

	auth *auth.Service
	rbac *auth.RBACService

	cookie       CookieSettings
	corsOrigins  []string
	maxBodyBytes int64
	rateEnabled  bool
	rateBurst    int
	ratePerSec   float64
	proxies      []netip.Prefix

	validate *validator.Validate
}

// Option configures the API.
type Option func(*API)

func WithCookie(c CookieSettings) Option {
	return func(a *API) {
		if c.Name != "" {
			a.cookie.Name = c.Name
		}
		if c.Path != "" {
			a.cookie.Path = c.Path
		}
		if c.SameSite != 0 {
			a.cookie.SameSite = c.SameSite
		}
		a.cookie.Domain = c.Domain
		a.cookie.Secure = c.Secure
	}
}

func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For is believed.
func WithTrustedProxies(proxies []netip.Prefix) Option {
	return func(a *API) { a.proxies = proxies }
}

// WithRateLimit enables the per-IP token bucket. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.rateEnabled = perSecond > 0 && burst > 0
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// New wires the routes. authSvc and rbacSvc are required.
func New(rp ReadyProbe, version string, authSvc *auth.Service, rbacSvc *auth.RBACService, opts ...Option) *API {
	a := &API{
		router:     mux.NewRouter(),
		readyProbe: rp,
		version:    version,
		auth:       authSvc,
		rbac:       rbacSvc,
		cookie: CookieSettings{
			Name:     "jwt",
			Path:     "/",
			SameSite: http.SameSiteStrictMode,
		},
		maxBodyBytes: 1 << 20,
		validate:     newValidator(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/signup", a.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/token", a.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(a.withAuth)
	protected.HandleFunc("/profile", a.handleProfile).Methods(http.MethodGet)

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Handle("/users", a.require(auth.PermUsersRead, a.handleListUsers)).Methods(http.MethodGet)
	admin.Handle("/users", a.require(auth.PermUsersCreate, a.handleCreateUser)).Methods(http.MethodPost)
	admin.Handle("/users/{id}", a.require(auth.PermUsersUpdate, a.handleUpdateUser)).Methods(http.MethodPut)
	admin.Handle("/users/{id}", a.require(auth.PermUsersDelete, a.handleDeleteUser)).Methods(http.MethodDelete)
	admin.Handle("/users/{id}/permissions", a.require(auth.PermUsersRead, a.handleUserPermissions)).Methods(http.MethodGet)
	admin.Handle("/users/{id}/roles/{roleId}", a.require(auth.PermUsersUpdate, a.handleUnassignRole)).Methods(http.MethodDelete)
	admin.Handle("/assign-role", a.require(auth.PermUsersUpdate, a.handleAssignRole)).Methods(http.MethodPost)

	admin.Handle("/roles", a.require(auth.PermRolesRead, a.handleListRoles)).Methods(http.MethodGet)
	admin.Handle("/roles", a.require(auth.PermRolesCreate, a.handleCreateRole)).Methods(http.MethodPost)
	admin.Handle("/roles/{id}", a.require(auth.PermRolesUpdate, a.handleUpdateRole)).Methods(http.MethodPut)
	admin.Handle("/roles/{id}", a.require(auth.PermRolesDelete, a.handleDeleteRole)).Methods(http.MethodDelete)
	admin.Handle("/roles/{id}/permissions", a.require(auth.PermRolesUpdate, a.handleSetRolePermissions)).Methods(http.MethodPut)
	admin.Handle("/assign-perm", a.require(auth.PermRolesUpdate, a.handleGrantPermission)).Methods(http.MethodPost)

	admin.Handle("/permissions", a.require(auth.PermPermissionsRead, a.handleListPermissions)).Methods(http.MethodGet)
	admin.Handle("/permissions", a.require(auth.PermPermissionsCreate, a.handleCreatePermission)).Methods(http.MethodPost)
	admin.Handle("/permissions/{id}", a.require(auth.PermPermissionsUpdate, a.handleUpdatePermission)).Methods(http.MethodPut)
	admin.Handle("/permissions/{id}", a.require(auth.PermPermissionsDelete, a.handleDeletePermission)).Methods(http.MethodDelete)
}

// Handler returns the router wrapped in the middleware chain, outermost first:
// metrics, request id, client ip, logging, security headers, CORS, rate
// limit, body cap.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBodyBytes)
	if a.rateEnabled {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authix",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authix",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
