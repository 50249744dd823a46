package handlers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Expenses"

var exportHeader = []string{"id", "date", "category", "amount", "note"}

// ExportCSV sends every expense of the current user as a CSV attachment.
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.db.ListExpenses(r.Context(), CurrentUser(r).ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write(exportHeader)
	for _, e := range expenses {
		_ = cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.Date.String(),
			e.Category,
			formatAmount(e.Amount),
			e.Note,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=expenses.csv")
	_, _ = buf.WriteTo(w)
}

// ExportXLSX sends the same rows as ExportCSV in a spreadsheet workbook.
func (h *Handlers) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.db.ListExpenses(r.Context(), CurrentUser(r).ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		h.serverError(w, r, err)
		return
	}
	// Built-in format 2 is "0.00".
	style, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := f.SetColStyle(xlsxSheet, "D", style); err != nil {
		h.serverError(w, r, err)
		return
	}

	header := make([]any, len(exportHeader))
	for i, col := range exportHeader {
		header[i] = col
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		h.serverError(w, r, err)
		return
	}
	for i, e := range expenses {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		row := []any{e.ID, e.Date.String(), e.Category, e.Amount, e.Note}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			h.serverError(w, r, err)
			return
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=expenses.xlsx")
	_, _ = buf.WriteTo(w)
}

// CategorySummary returns the per-category sums of the current user as JSON.
func (h *Handlers) CategorySummary(w http.ResponseWriter, r *http.Request) {
	totals, err := h.db.CategoryTotals(r.Context(), CurrentUser(r).ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	summary := make(map[string]float64, len(totals))
	for _, t := range totals {
		summary[t.Category] = t.Total
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		h.serverError(w, r, err)
	}
}

// Health reports whether the database is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
