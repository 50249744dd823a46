package handlers

import (
	"io/fs"
	"net/http"

	applog "budget-tracker/internal/log"
	"budget-tracker/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the routing table. Routes in the authenticated group
// redirect anonymous requests to /login.
func NewRouter(h *Handlers, logger *applog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(applog.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(h.LoadUser)

	r.NotFound(h.notFound)

	static, err := fs.Sub(web.StaticFS, "static")
	if err != nil {
		// StaticFS is embedded, so the sub tree always exists.
		panic(err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/healthz", h.Health)
	r.Get("/", h.Index)
	r.Get("/register", h.RegisterForm)
	r.Post("/register", h.Register)
	r.Get("/login", h.LoginForm)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Get("/logout", h.Logout)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/add", h.AddExpenseForm)
		r.Post("/add", h.AddExpense)
		r.Get("/edit/{expenseID:[0-9]+}", h.EditExpenseForm)
		r.Post("/edit/{expenseID:[0-9]+}", h.EditExpense)
		r.Post("/delete/{expenseID:[0-9]+}", h.DeleteExpense)
		r.Get("/expenses", h.ListExpenses)
		r.Get("/export", h.ExportCSV)
		r.Get("/export.xlsx", h.ExportXLSX)
		r.Get("/api/category-summary", h.CategorySummary)
	})

	return r
}
