// Package output renders command results as text, tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Format is an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatText  Format = "text"
)

// Color is an ANSI escape sequence.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter writes CLI output. It is safe for concurrent use, so background
// notices (sync results, incoming calls) can interleave with prompts.
type Formatter struct {
	mu           sync.Mutex
	writer       io.Writer
	format       Format
	colorEnabled bool
	indent       string
}

// Option configures a Formatter.
type Option func(*Formatter)

// NewFormatter creates a Formatter writing text to stdout.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		writer:       os.Stdout,
		format:       FormatText,
		colorEnabled: true,
		indent:       "  ",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the output writer.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) { f.writer = w }
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithColor enables or disables ANSI colors.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.colorEnabled = enabled }
}

// Format returns the output format.
func (f *Formatter) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// IsJSON reports whether output is JSON.
func (f *Formatter) IsJSON() bool {
	return f.Format() == FormatJSON
}

// Write implements io.Writer.
func (f *Formatter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer.Write(p)
}

// Println writes a formatted line.
func (f *Formatter) Println(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.writer, format+"\n", args...)
	return err
}

// Colorize wraps text in color when colors are enabled.
func (f *Formatter) Colorize(text string, color Color) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.colorEnabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

// Bold returns text in bold.
func (f *Formatter) Bold(text string) string { return f.Colorize(text, ColorBold) }

// Dim returns text dimmed.
func (f *Formatter) Dim(text string) string { return f.Colorize(text, ColorDim) }

func (f *Formatter) status(mark string, color Color, format string, args []any) error {
	return f.Println("%s", f.Colorize(mark+" "+fmt.Sprintf(format, args...), color))
}

// Success prints a green check line.
func (f *Formatter) Success(format string, args ...any) error {
	return f.status("✓", ColorGreen, format, args)
}

// Error prints a red cross line.
func (f *Formatter) Error(format string, args ...any) error {
	return f.status("✗", ColorRed, format, args)
}

// Warning prints a yellow warning line.
func (f *Formatter) Warning(format string, args ...any) error {
	return f.status("⚠", ColorYellow, format, args)
}

// Info prints a blue info line.
func (f *Formatter) Info(format string, args ...any) error {
	return f.status("ℹ", ColorBlue, format, args)
}

// Header prints an underlined section title.
func (f *Formatter) Header(title string) error {
	if err := f.Println("%s", f.Bold(title)); err != nil {
		return err
	}
	return f.Println("%s", strings.Repeat("─", len([]rune(title))))
}

// Item prints an indented key/value pair.
func (f *Formatter) Item(key, value string) error {
	return f.Println("%s%s %s", f.indent, f.Dim(key+":"), value)
}

// Alignment of a table column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableColumn describes one table column.
type TableColumn struct {
	Header string
	Align  Alignment
}

// TableData is a header row plus body rows.
type TableData struct {
	Columns []TableColumn
	Rows    [][]string
}

// Table writes data with columns padded to their widest cell.
func (f *Formatter) Table(data TableData) error {
	if len(data.Columns) == 0 {
		return nil
	}

	widths := make([]int, len(data.Columns))
	for i, col := range data.Columns {
		widths[i] = len(col.Header)
	}
	for _, row := range data.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(row[i]))
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(data.Columns))
		for i, col := range data.Columns {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = pad(cell, widths[i], col.Align)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	headers := make([]string, len(data.Columns))
	rules := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		headers[i] = col.Header
		rules[i] = strings.Repeat("-", widths[i])
	}

	if err := f.Println("%s", f.Bold(line(headers))); err != nil {
		return err
	}
	if err := f.Println("%s", line(rules)); err != nil {
		return err
	}
	for _, row := range data.Rows {
		if err := f.Println("%s", line(row)); err != nil {
			return err
		}
	}
	return nil
}

func pad(text string, width int, align Alignment) string {
	if len(text) >= width {
		return text
	}
	fill := strings.Repeat(" ", width-len(text))
	if align == AlignRight {
		return fill + text
	}
	return text + fill
}

// JSON writes data as indented JSON.
func (f *Formatter) JSON(data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", f.indent)
	return enc.Encode(data)
}

// FormatAuto writes data as JSON in JSON mode and as table otherwise.
func (f *Formatter) FormatAuto(data any, table TableData) error {
	if f.IsJSON() {
		return f.JSON(data)
	}
	return f.Table(table)
}

// ParseFormat parses a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "text", "":
		return FormatText, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", s)
	}
}
