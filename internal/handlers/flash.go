package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const flashCookieName = "flash"

// Flash kinds
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashWarning = "warning"
	FlashDanger  = "danger"
)

// Flash is a one-shot notice shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
}

func (h *Handlers) setFlash(w http.ResponseWriter, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(kind + "\n" + message)),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) popFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(string(raw), "\n")
	if !ok {
		return nil
	}
	return &Flash{Kind: kind, Message: message}
}

// redirect sets a flash notice and redirects to target.
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, target, kind, message string) {
	h.setFlash(w, kind, message)
	http.Redirect(w, r, target, http.StatusFound)
}
