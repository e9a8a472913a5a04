// Package export renders the tabular back-office exports as xlsx workbooks.
package export

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"github.com/templedesk/api/internal/database"
)

const (
	// Negative amounts are shown in parentheses.
	currencyFormat = "#,##0.00;(#,##0.00)"
	dateFormat     = "dd/mm/yyyy"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type styles struct {
	header   int
	currency int
	date     int
	total    int
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error

	if s.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#8EA9DB", Style: 1},
		},
	}); err != nil {
		return s, fmt.Errorf("header style: %w", err)
	}

	currency := currencyFormat
	if s.currency, err = f.NewStyle(&excelize.Style{CustomNumFmt: &currency}); err != nil {
		return s, fmt.Errorf("currency style: %w", err)
	}
	if s.total, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &currency}); err != nil {
		return s, fmt.Errorf("total style: %w", err)
	}

	date := dateFormat
	if s.date, err = f.NewStyle(&excelize.Style{CustomNumFmt: &date}); err != nil {
		return s, fmt.Errorf("date style: %w", err)
	}
	return s, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for i, h := range headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		cell := fmt.Sprintf("%s1", col)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
		if i < len(widths) {
			if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
				return err
			}
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

var invoiceHeaders = []string{
	"Invoice No.", "Invoice Date", "Customer", "Status", "Total", "Paid", "Balance", "Payment Status", "Migrated",
}

// InvoiceRegister writes one row per invoice plus a totals row. customers
// maps customer ids to display names.
func InvoiceRegister(w io.Writer, invoices []database.Invoice, customers map[uuid.UUID]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Invoices"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	st, err := newStyles(f)
	if err != nil {
		return err
	}
	if err := writeHeader(f, sheet, invoiceHeaders, []float64{14, 13, 32, 12, 14, 14, 14, 15, 10}, st.header); err != nil {
		return err
	}

	row := 2
	for _, inv := range invoices {
		migrated := "No"
		if inv.AccountMigration == 1 {
			migrated = "Yes"
		}
		values := []any{
			inv.InvoiceNumber,
			inv.InvoiceDate,
			customers[inv.CustomerID],
			inv.Status,
			inv.TotalAmount.InexactFloat64(),
			inv.PaidAmount.InexactFloat64(),
			inv.BalanceAmount().InexactFloat64(),
			inv.PaymentStatus,
			migrated,
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("invoice %s: %w", inv.InvoiceNumber, err)
		}
		row++
	}

	last := row - 1
	if len(invoices) > 0 {
		if err := f.SetCellStyle(sheet, "B2", fmt.Sprintf("B%d", last), st.date); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "E2", fmt.Sprintf("G%d", last), st.currency); err != nil {
			return err
		}
	}

	if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "Total"); err != nil {
		return err
	}
	for _, col := range []string{"E", "F", "G"} {
		cell := fmt.Sprintf("%s%d", col, row)
		formula := "0"
		if len(invoices) > 0 {
			formula = fmt.Sprintf("SUM(%s2:%s%d)", col, col, last)
		}
		if err := f.SetCellFormula(sheet, cell, formula); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("G%d", row), st.total); err != nil {
		return err
	}

	return f.Write(w)
}

var staffHeaders = []string{"Full Name", "Email", "Phone", "Role", "Status", "Join Date", "Termination Date", "Termination Reason"}

// StaffList writes the staff register.
func StaffList(w io.Writer, staff []database.Staff) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Staff"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	st, err := newStyles(f)
	if err != nil {
		return err
	}
	if err := writeHeader(f, sheet, staffHeaders, []float64{28, 30, 16, 10, 12, 13, 16, 30}, st.header); err != nil {
		return err
	}

	for i, s := range staff {
		row := i + 2
		values := []any{s.FullName, s.Email, s.Phone.String, s.Role, s.Status, s.JoinDate, nil, s.TerminationReason.String}
		if s.TerminationDate.Valid {
			values[6] = s.TerminationDate.Time
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("staff %s: %w", s.Email, err)
		}
	}
	if len(staff) > 0 {
		if err := f.SetCellStyle(sheet, "F2", fmt.Sprintf("G%d", len(staff)+1), st.date); err != nil {
			return err
		}
	}

	return f.Write(w)
}
