package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// RecordTable lays out records with one column per field.
func RecordTable(records []record.Record, fields ...string) TableData {
	cols := make([]TableColumn, len(fields))
	for i, f := range fields {
		cols[i] = TableColumn{Header: strings.ToUpper(f)}
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		row := make([]string, len(fields))
		for j, f := range fields {
			row[j] = Truncate(cell(r[f]), 40)
		}
		rows[i] = row
	}
	return TableData{Columns: cols, Rows: rows}
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// Ago renders the time since t in a compact form, e.g. "42s", "5m", "3h", "2d".
func Ago(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
