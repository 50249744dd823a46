package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	applog "budget-tracker/internal/log"
	"budget-tracker/internal/models"

	"github.com/go-chi/chi/v5"
)

const (
	// RecentLimit is how many expenses the dashboard shows.
	RecentLimit = 8
	// PageSize is the number of expenses per list page.
	PageSize = 20

	maxCategoryLength = 50
	maxNoteLength     = 255
)

// DashboardViewModel is the data passed to the dashboard template.
type DashboardViewModel struct {
	Recent     []models.Expense
	Total      float64
	Categories []models.CategoryTotal
}

// AddViewModel is the data passed to the add form.
type AddViewModel struct {
	Today string
}

// Dashboard renders the recent expenses, the overall total and the per-category sums.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)

	recent, err := h.db.RecentExpenses(r.Context(), user.ID, RecentLimit)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	total, err := h.db.TotalAmount(r.Context(), user.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	categories, err := h.db.CategoryTotals(r.Context(), user.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, "dashboard.html", DashboardViewModel{
		Recent:     recent,
		Total:      total,
		Categories: categories,
	})
}

// AddExpenseForm renders the form to create a new expense.
func (h *Handlers) AddExpenseForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "add_expense.html", AddViewModel{Today: time.Now().Format(models.DateLayout)})
}

// AddExpense handles the creation of a new expense.
func (h *Handlers) AddExpense(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)

	e, err := parseExpenseForm(r, "Invalid date format")
	if err != nil {
		h.redirect(w, r, "/add", FlashDanger, validationMessage(err))
		return
	}
	e.UserID = user.ID

	if err := h.db.CreateExpense(r.Context(), e); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.redirect(w, r, "/dashboard", FlashSuccess, "Expense added")
}

// EditExpenseForm renders the form to edit an existing expense.
func (h *Handlers) EditExpenseForm(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExpense(w, r, "/dashboard")
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "edit_expense.html", e)
}

// EditExpense handles the update of an existing expense. Only date,
// category, amount and note change.
func (h *Handlers) EditExpense(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.ownedExpense(w, r, "/dashboard")
	if !ok {
		return
	}

	e, err := parseExpenseForm(r, "Invalid date")
	if err != nil {
		h.redirect(w, r, "/edit/"+strconv.FormatInt(existing.ID, 10), FlashDanger, validationMessage(err))
		return
	}
	e.ID = existing.ID

	err = h.db.UpdateExpense(r.Context(), existing.UserID, e)
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.notFound(w, r)
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}
	h.redirect(w, r, "/expenses", FlashSuccess, "Expense updated")
}

// DeleteExpense permanently removes an expense.
func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExpense(w, r, "/expenses")
	if !ok {
		return
	}

	err := h.db.DeleteExpense(r.Context(), e.UserID, e.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.notFound(w, r)
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}
	h.redirect(w, r, "/expenses", FlashInfo, "Expense deleted")
}

// ListExpenses renders one page of the current user's expenses.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page = p
	}

	result, err := h.db.ListExpensesPage(r.Context(), CurrentUser(r).ID, page, PageSize)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "expenses.html", result)
}

// ownedExpense loads the expense named in the path. It writes a 404 when the
// expense does not exist and redirects to denied when another user owns it.
func (h *Handlers) ownedExpense(w http.ResponseWriter, r *http.Request, denied string) (*models.Expense, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "expenseID"), 10, 64)
	if err != nil {
		h.notFound(w, r)
		return nil, false
	}

	e, err := h.db.GetExpense(r.Context(), id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.notFound(w, r)
		return nil, false
	case err != nil:
		h.serverError(w, r, err)
		return nil, false
	}

	if user := CurrentUser(r); e.UserID != user.ID {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense).
			Warn("expense access denied", "expense_id", e.ID, "user_id", user.ID, "error", models.ErrAuthorization)
		h.redirect(w, r, denied, FlashDanger, "Not authorised")
		return nil, false
	}
	return e, true
}

// parseExpenseForm validates the add/edit form. Negative amounts are accepted.
// dateNotice is the message for an unparsable date.
func parseExpenseForm(r *http.Request, dateNotice string) (*models.Expense, error) {
	if err := r.ParseForm(); err != nil {
		return nil, models.Invalid("form", "Invalid form submission")
	}

	date, err := models.ParseDate(strings.TrimSpace(r.PostFormValue("date")))
	if err != nil {
		return nil, models.Invalid("date", dateNotice)
	}

	category := strings.TrimSpace(r.PostFormValue("category"))
	if category == "" || utf8.RuneCountInString(category) > maxCategoryLength {
		return nil, models.Invalid("category", "Invalid category")
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(r.PostFormValue("amount")), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, models.Invalid("amount", "Invalid amount")
	}

	note := strings.TrimSpace(r.PostFormValue("note"))
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, models.Invalid("note", "Note is too long")
	}

	return &models.Expense{Date: date, Category: category, Amount: amount, Note: note}, nil
}

func validationMessage(err error) string {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return "Invalid input"
}
