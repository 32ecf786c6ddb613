package receipt

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// exportHeader is the fixed column order of the exported spreadsheet
var exportHeader = []string{"Month", "Date", "Type", "Item", "Vendor", "Amount", "From Account", "Paid by"}

// ExportRows maps the confirmed entries, in collection order, to one
// spreadsheet row each. Text cells arrive already quoted with embedded quotes
// doubled; the Amount cell stays a bare numeric. The transform is pure: it
// does no I/O and skips nothing but unconfirmed entries.
func ExportRows(entries []Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsConfirmed || e.Data == nil {
			continue
		}

		data := e.Data
		month := ""
		if parts := strings.SplitN(data.Date, "-", 3); len(parts) >= 2 {
			month = parts[0] + parts[1]
		}

		names := make([]string, 0, len(data.Items))
		for _, item := range data.Items {
			names = append(names, item.TranslatedName)
		}

		rows = append(rows, []string{
			quote(month),
			quote(data.Date),
			quote(e.SelectedCategory),
			quote(strings.Join(names, ", ")),
			quote(data.MerchantName),
			strconv.FormatFloat(data.TotalAmount, 'f', -1, 64),
			quote(e.SelectedFromAccount),
			quote(e.SelectedPaidBy),
		})
	}
	return rows
}

// quote wraps a text cell in double quotes, doubling embedded quotes
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteCSV writes the header row followed by the given rows as UTF-8
// comma-separated text
func WriteCSV(w io.Writer, rows [][]string) error {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(exportHeader, ","))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, ","))
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// ExportFilename names the download after the day it was produced
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("receipts_summary_%s.csv", now.Format("2006-01-02"))
}
