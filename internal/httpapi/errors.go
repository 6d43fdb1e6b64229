package httpapi

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"authix.org/internal/auth"
	"authix.org/internal/obs"
)

// statusFor maps the auth error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrAuthenticationRequired), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrTokenStale),
		errors.Is(err, auth.ErrForbidden),
		errors.Is(err, auth.ErrSystemEntity),
		errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrConflict), errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleAuthError writes err as a JSON error. Unclassified errors are logged
// and hidden behind a generic message.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		obs.Logger().WithFields(logrus.Fields{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeError(w, r, status, "internal error")
		return
	}
	if errors.Is(err, auth.ErrForbidden) {
		writeForbidden(w, r, err)
		return
	}
	msg, ok := auth.PublicMessage(err)
	if !ok {
		msg = http.StatusText(status)
	}
	writeError(w, r, status, msg)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, err error) {
	msg, _ := auth.PublicMessage(err)
	payload := map[string]any{
		"error":   "Forbidden",
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}
