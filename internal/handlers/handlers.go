package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"budget-tracker/internal/auth"
	applog "budget-tracker/internal/log"
	"budget-tracker/internal/models"
	"budget-tracker/internal/storage"
	"budget-tracker/web"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// IdentityContextKey is the context key for the resolved request identity.
	IdentityContextKey contextKey = "identity"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// DefaultSessionDuration is how long sessions last (30 days).
	DefaultSessionDuration = 30 * 24 * time.Hour
)

var views = []string{
	"index.html",
	"register.html",
	"login.html",
	"dashboard.html",
	"expenses.html",
	"add_expense.html",
	"edit_expense.html",
	"not_found.html",
}

// Options configures Handlers. Zero values fall back to defaults.
type Options struct {
	// TemplateFS overrides the embedded templates; it must contain a templates/ directory.
	TemplateFS      fs.FS
	SecureCookie    bool
	SessionDuration time.Duration
	Logger          *applog.Logger
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db              *storage.DB
	signer          *auth.Signer
	templates       map[string]*template.Template
	secureCookie    bool
	sessionDuration time.Duration
	logger          *applog.Logger
}

// NewHandlers creates a new Handlers instance and parses every view.
func NewHandlers(db *storage.DB, signer *auth.Signer, opts Options) (*Handlers, error) {
	h := &Handlers{
		db:              db,
		signer:          signer,
		templates:       make(map[string]*template.Template, len(views)),
		secureCookie:    opts.SecureCookie,
		sessionDuration: opts.SessionDuration,
		logger:          opts.Logger,
	}
	if h.sessionDuration <= 0 {
		h.sessionDuration = DefaultSessionDuration
	}
	if h.logger == nil {
		h.logger = applog.New(applog.Config{})
	}

	fsys := opts.TemplateFS
	if fsys == nil {
		fsys = web.TemplatesFS
	}
	funcs := template.FuncMap{"money": formatAmount}
	for _, view := range views {
		tmpl, err := template.New("base.html").Funcs(funcs).ParseFS(fsys,
			"templates/base.html", "templates/expense_table.html", "templates/"+view)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", view, err)
		}
		h.templates[view] = tmpl
	}
	return h, nil
}

// Identity is the request-scoped result of session resolution.
type Identity struct {
	User         *models.User
	SessionToken string
}

// CurrentUser returns the authenticated user of the request, or nil when anonymous.
func CurrentUser(r *http.Request) *models.User {
	if id := identityFrom(r.Context()); id != nil {
		return id.User
	}
	return nil
}

func identityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(IdentityContextKey).(*Identity)
	return id
}

// pageData is what every template receives.
type pageData struct {
	User  *models.User
	Flash *Flash
	Data  any
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, view string, data any) {
	tmpl, ok := h.templates[view]
	if !ok {
		h.serverError(w, r, fmt.Errorf("unknown view %q", view))
		return
	}

	var buf bytes.Buffer
	page := pageData{User: CurrentUser(r), Flash: h.popFlash(w, r), Data: data}
	if err := tmpl.ExecuteTemplate(&buf, "base", page); err != nil {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentTemplate).
			Error("template execution failed", "view", view, "error", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "not_found.html", nil)
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	applog.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
