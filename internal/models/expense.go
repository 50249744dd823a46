package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of an expense date.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time component.
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) parse(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Expense represents a financial expense record owned by one user.
type Expense struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Date      Date      `db:"date" json:"date"`
	Category  string    `db:"category" json:"category"`
	Amount    float64   `db:"amount" json:"amount"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CategoryTotal is the summed amount of one category.
type CategoryTotal struct {
	Category string  `db:"category"`
	Total    float64 `db:"total"`
}

// ExpensePage is one slice of a user's expense list.
type ExpensePage struct {
	Items   []Expense
	Page    int
	PerPage int
	Total   int
}

// Pages returns the number of pages needed for all items.
func (p ExpensePage) Pages() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// HasPrev reports whether a previous page exists.
func (p ExpensePage) HasPrev() bool {
	return p.Page > 1
}

// HasNext reports whether a following page exists.
func (p ExpensePage) HasNext() bool {
	return p.Page < p.Pages()
}

// PrevPage returns the previous page number.
func (p ExpensePage) PrevPage() int {
	return p.Page - 1
}

// NextPage returns the following page number.
func (p ExpensePage) NextPage() int {
	return p.Page + 1
}

// MarshalJSON encodes the date as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}
