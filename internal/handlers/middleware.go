package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	applog "budget-tracker/internal/log"
	"budget-tracker/internal/models"
)

// LoadUser resolves the session cookie into an Identity on the request
// context. Requests without a valid session continue anonymously.
// It also implements rolling sessions: if a session is past the halfway point
// of its lifetime, it automatically renews the session.
func (h *Handlers) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, userID, err := h.signer.Parse(cookie.Value)
		if err != nil {
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		sessionInfo, err := h.db.ValidateSessionWithInfo(r.Context(), token)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			h.serverError(w, r, err)
			return
		}
		if err != nil || sessionInfo.User.ID != userID {
			// Invalid or expired session, clear the cookie
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		// Rolling session: renew if past halfway point
		now := time.Now()
		if sessionInfo.ExpiresAt.Sub(now) < h.sessionDuration/2 {
			newExpiresAt := now.Add(h.sessionDuration)
			if err := h.db.RenewSession(r.Context(), token, newExpiresAt); err == nil {
				h.setSessionCookie(w, token, userID, newExpiresAt)
			} else {
				// If renewal fails, just continue with the current session
				applog.FromContext(r.Context()).Warn("session renewal failed", "error", err)
			}
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, &Identity{User: sessionInfo.User, SessionToken: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth redirects anonymous requests to the login page.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r) == nil {
			h.redirect(w, r, "/login", FlashInfo, "Please log in to access this page.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string, userID int64, expiresAt time.Time) {
	value, err := h.signer.Sign(token, userID, expiresAt)
	if err != nil {
		h.logger.Error("sign session cookie", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// securityHeaders adds the standard hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'; form-action 'self'")
		next.ServeHTTP(w, r)
	})
}
