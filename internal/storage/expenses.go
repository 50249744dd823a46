package storage

import (
	"context"
	"fmt"
	"time"

	"budget-tracker/internal/models"
)

const (
	expenseColumns = "id, user_id, date, category, amount, note, created_at"
	// Equal dates keep insertion order.
	expenseOrder = "ORDER BY date DESC, id ASC"
)

// CreateExpense inserts e and fills in its ID and CreatedAt.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) error {
	e.CreatedAt = time.Now().UTC()
	result, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO expenses (user_id, date, category, amount, note, created_at)
		VALUES (:user_id, :date, :category, :amount, :note, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("insert expense: %w", translate(err))
	}
	e.ID, err = result.LastInsertId()
	return err
}

// GetExpense retrieves a single expense by ID.
func (db *DB) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	var e models.Expense
	if err := db.conn.GetContext(ctx, &e, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id); err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// UpdateExpense overwrites date, category, amount and note of an expense
// owned by userID. Other columns are never touched.
func (db *DB) UpdateExpense(ctx context.Context, userID int64, e *models.Expense) error {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE expenses SET date = ?, category = ?, amount = ?, note = ? WHERE id = ? AND user_id = ?",
		e.Date, e.Category, e.Amount, e.Note, e.ID, userID,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireRow(result.RowsAffected())
}

// DeleteExpense removes an expense owned by userID.
func (db *DB) DeleteExpense(ctx context.Context, userID, id int64) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireRow(result.RowsAffected())
}

func requireRow(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecentExpenses returns the limit most recently dated expenses of a user.
func (db *DB) RecentExpenses(ctx context.Context, userID int64, limit int) ([]models.Expense, error) {
	expenses := []models.Expense{}
	err := db.conn.SelectContext(ctx, &expenses,
		"SELECT "+expenseColumns+" FROM expenses WHERE user_id = ? "+expenseOrder+" LIMIT ?",
		userID, limit,
	)
	return expenses, err
}

// ListExpenses returns every expense of a user, newest date first.
func (db *DB) ListExpenses(ctx context.Context, userID int64) ([]models.Expense, error) {
	expenses := []models.Expense{}
	err := db.conn.SelectContext(ctx, &expenses,
		"SELECT "+expenseColumns+" FROM expenses WHERE user_id = ? "+expenseOrder,
		userID,
	)
	return expenses, err
}

// ListExpensesPage returns one page of a user's expenses. Pages below 1 are
// treated as 1; pages past the end come back empty.
func (db *DB) ListExpensesPage(ctx context.Context, userID int64, page, perPage int) (models.ExpensePage, error) {
	if page < 1 {
		page = 1
	}
	p := models.ExpensePage{Page: page, PerPage: perPage, Items: []models.Expense{}}

	total, err := db.ExpenseCount(ctx, userID)
	if err != nil {
		return p, err
	}
	p.Total = total
	// Also keeps (page-1)*perPage from overflowing for huge page numbers.
	if page > p.Pages() {
		return p, nil
	}

	err = db.conn.SelectContext(ctx, &p.Items,
		"SELECT "+expenseColumns+" FROM expenses WHERE user_id = ? "+expenseOrder+" LIMIT ? OFFSET ?",
		userID, perPage, (page-1)*perPage,
	)
	return p, err
}

// ExpenseCount returns how many expenses a user owns.
func (db *DB) ExpenseCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := db.conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM expenses WHERE user_id = ?", userID)
	return count, err
}

// TotalAmount returns the sum of all amounts of a user, 0 when there are none.
func (db *DB) TotalAmount(ctx context.Context, userID int64) (float64, error) {
	var total float64
	err := db.conn.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(amount), 0.0) FROM expenses WHERE user_id = ?", userID)
	return total, err
}

// CategoryTotals returns the summed amount per category of a user, sorted by category.
func (db *DB) CategoryTotals(ctx context.Context, userID int64) ([]models.CategoryTotal, error) {
	totals := []models.CategoryTotal{}
	err := db.conn.SelectContext(ctx, &totals, `
		SELECT category, SUM(amount) AS total
		FROM expenses
		WHERE user_id = ?
		GROUP BY category
		ORDER BY category
	`, userID)
	return totals, err
}
