package httpapi

import (
	"net/http"
	"strings"

	"authix.org/internal/auth"
	"authix.org/internal/obs"
)

const (
	authHeader        = "Authorization"
	bearer            = "Bearer "
	accessTokenCookie = "access_token"
)

var (
	errMissingToken = &auth.Error{Kind: auth.ErrAuthenticationRequired, Message: "Access token required"}
	errBadScheme    = &auth.Error{Kind: auth.ErrAuthenticationRequired, Message: "Invalid authorization scheme"}
)

// withAuth verifies the access token from the Authorization header, or the
// access_token cookie when the header is absent, and stores the identity in
// the request context. It never touches the database.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := tokenFromRequest(r)
		if err != nil {
			obs.ObserveAuthFailure("missing_token")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		res := a.auth.Authenticate(token)
		if !res.Authenticated() {
			obs.ObserveAuthFailure("invalid_token")
			msg, ok := auth.PublicMessage(res.Err)
			if !ok {
				msg = "Invalid or expired token"
			}
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), res.Identity)))
	})
}

// RequirePermission admits the request only when the authenticated caller's
// current roles grant perm. The set is resolved on every request.
func (a *API) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}
			res, err := a.rbac.Authorize(r.Context(), id.ID, perm)
			if err != nil {
				handleAuthError(w, r, err)
				return
			}
			obs.ObserveAuthz(perm, res.Allowed)
			if !res.Allowed {
				writeForbidden(w, r, res.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) require(perm string, h http.HandlerFunc) http.Handler {
	return a.RequirePermission(perm)(h)
}

func tokenFromRequest(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		return extractBearerToken(header)
	}
	if c, err := r.Cookie(accessTokenCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return "", errMissingToken
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
