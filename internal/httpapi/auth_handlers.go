package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"authix.org/internal/audit"
	"authix.org/internal/auth"
	"authix.org/internal/obs"
)

type sessionResponse struct {
	Message     string          `json:"message"`
	User        auth.PublicUser `json:"user"`
	AccessToken string          `json:"accessToken"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	session, err := a.auth.Signup(r.Context(), auth.SignupInput{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveTokens("signup", true)
	a.setRefreshCookie(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)
	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"user_id":  session.User.ID,
		"username": session.User.Username,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{
		Message:     "User created successfully",
		User:        session.User.Public(),
		AccessToken: session.Tokens.AccessToken,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.UsernameOrEmail = strings.TrimSpace(req.UsernameOrEmail)
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	session, err := a.auth.Login(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		obs.ObserveAuthFailure("login")
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"login":  req.UsernameOrEmail,
			"status": statusFor(err),
		})
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveTokens("login", true)
	a.setRefreshCookie(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":  session.User.ID,
		"username": session.User.Username,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Message:     "Login successful",
		User:        session.User.Public(),
		AccessToken: session.Tokens.AccessToken,
	})
}

// handleToken exchanges the refresh cookie for a new access token. A missing
// cookie is 401; a cookie that fails verification or is no longer current
// is 403.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(a.cookie.Name)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		writeError(w, r, http.StatusUnauthorized, "Refresh token required")
		return
	}

	rot, err := a.auth.Rotate(r.Context(), cookie.Value)
	if err != nil {
		obs.ObserveAuthFailure("refresh")
		if errors.Is(err, auth.ErrAuthenticationRequired) || errors.Is(err, auth.ErrTokenStale) {
			msg, _ := auth.PublicMessage(err)
			writeError(w, r, http.StatusForbidden, msg)
			return
		}
		handleAuthError(w, r, err)
		return
	}
	rotated := rot.RefreshToken != ""
	if rotated {
		a.setRefreshCookie(w, rot.RefreshToken, rot.RefreshExpiresAt)
	}
	obs.ObserveTokens("rotate", rotated)
	_ = audit.LogEvent(r.Context(), "auth.token.refreshed", map[string]any{
		"user_id": rot.UserID,
		"rotated": rotated,
	})
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: rot.AccessToken})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(a.cookie.Name)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := a.auth.Logout(r.Context(), cookie.Value); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	profile, err := a.auth.Profile(r.Context(), id.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) setRefreshCookie(w http.ResponseWriter, value string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    value,
		Path:     a.cookie.Path,
		Domain:   a.cookie.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: a.cookie.SameSite,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    "",
		Path:     a.cookie.Path,
		Domain:   a.cookie.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: a.cookie.SameSite,
	})
}
