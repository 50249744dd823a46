package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"budget-tracker/internal/auth"
	applog "budget-tracker/internal/log"
	"budget-tracker/internal/models"
)

const maxIdentityLength = 150

// Index redirects authenticated users to the dashboard and shows the landing page otherwise.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	if CurrentUser(r) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, "index.html", nil)
}

// RegisterForm renders the registration page.
func (h *Handlers) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register.html", nil)
}

// Register handles the registration form submission. It never logs the new user in.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirect(w, r, "/register", FlashWarning, "Please fill all fields")
		return
	}

	username := strings.TrimSpace(r.PostFormValue("username"))
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	if username == "" || email == "" || password == "" {
		h.redirect(w, r, "/register", FlashWarning, "Please fill all fields")
		return
	}
	if utf8.RuneCountInString(username) > maxIdentityLength || utf8.RuneCountInString(email) > maxIdentityLength {
		h.redirect(w, r, "/register", FlashWarning, "Username and email must be at most 150 characters")
		return
	}

	taken, err := h.identityTaken(r.Context(), username, email)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if taken {
		h.redirect(w, r, "/register", FlashDanger, "Username or email already exists")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	// CreateUser repeats the check inside its transaction.
	user, err := h.db.CreateUser(r.Context(), username, email, hash)
	switch {
	case errors.Is(err, models.ErrConflict):
		h.redirect(w, r, "/register", FlashDanger, "Username or email already exists")
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}

	applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth).Info("user registered", "user_id", user.ID)
	h.redirect(w, r, "/login", FlashSuccess, "Account created. Please login.")
}

// identityTaken reports whether username or email already belongs to a user.
func (h *Handlers) identityTaken(ctx context.Context, username, email string) (bool, error) {
	lookups := []func() (*models.User, error){
		func() (*models.User, error) { return h.db.GetUserByUsername(ctx, username) },
		func() (*models.User, error) { return h.db.GetUserByEmail(ctx, email) },
	}
	for _, lookup := range lookups {
		_, err := lookup()
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, models.ErrNotFound):
			return false, err
		}
	}
	return false, nil
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login.html", nil)
}

// Login handles the login form submission. Unknown emails and wrong
// passwords produce the same notice.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirect(w, r, "/login", FlashDanger, "Invalid credentials")
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	user, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		h.serverError(w, r, err)
		return
	}
	if err != nil || !auth.CheckPassword(password, user.PasswordHash) {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth).Info("login rejected", "error", models.ErrAuthentication)
		h.redirect(w, r, "/login", FlashDanger, "Invalid credentials")
		return
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	expiresAt := time.Now().Add(h.sessionDuration)
	if err := h.db.CreateSession(r.Context(), token, user.ID, expiresAt); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.setSessionCookie(w, token, user.ID, expiresAt)

	applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth).Info("user logged in", "user_id", user.ID)
	h.redirect(w, r, "/dashboard", FlashSuccess, "Logged in successfully.")
}

// Logout destroys the current session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if id := identityFrom(r.Context()); id != nil {
		if err := h.db.DeleteSession(r.Context(), id.SessionToken); err != nil {
			applog.FromContext(r.Context()).Error("failed to delete session", "error", err)
		}
	}
	h.clearSessionCookie(w)
	h.redirect(w, r, "/", FlashInfo, "You have been logged out.")
}
