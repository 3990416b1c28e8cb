package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	BorderStyle     BorderStyle
	HeaderSeparator bool
	Padding         int
}

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft     string
	TopRight    string
	BottomLeft  string
	BottomRight string
	Horizontal  string
	Vertical    string
	Cross       string
	TopTee      string
	BottomTee   string
	LeftTee     string
	RightTee    string
}

var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	RoundedBorderStyle = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}

	NoBorderStyle = BorderStyle{}
)

var (
	// DefaultTableStyle is a simple ASCII table style
	DefaultTableStyle = TableStyle{Name: "default", BorderStyle: ASCIIBorderStyle, HeaderSeparator: true, Padding: 1}

	// RoundedTableStyle uses Unicode box drawing characters
	RoundedTableStyle = TableStyle{Name: "rounded", BorderStyle: RoundedBorderStyle, HeaderSeparator: true, Padding: 1}

	// CompactTableStyle is minimal with no borders, convenient for grep and awk
	CompactTableStyle = TableStyle{Name: "compact", BorderStyle: NoBorderStyle, Padding: 1}
)

var tableStyles = []TableStyle{DefaultTableStyle, RoundedTableStyle, CompactTableStyle}

// TableStyleByName looks up one of the predefined styles
func TableStyleByName(name string) (TableStyle, bool) {
	for _, s := range tableStyles {
		if s.Name == name {
			return s, true
		}
	}
	return TableStyle{}, false
}

func tableStyleNames() []string {
	names := make([]string, len(tableStyles))
	for i, s := range tableStyles {
		names[i] = s.Name
	}
	return names
}

// Table collects rows and renders them with a TableStyle
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates a table. maxWidth <= 0 uses the terminal width.
func NewTable(colors ColorSystem, style TableStyle, maxWidth int) *Table {
	if maxWidth <= 0 {
		maxWidth = getTerminalWidth()
	}
	return &Table{
		alignments: make(map[int]Alignment),
		style:      style,
		maxWidth:   maxWidth,
		colors:     colors,
	}
}

// SetHeaders sets the table headers
func (t *Table) SetHeaders(headers ...string) *Table {
	t.headers = headers
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// SetColumnAlignment sets the alignment for a specific column
func (t *Table) SetColumnAlignment(column int, alignment Alignment) *Table {
	t.alignments[column] = alignment
	return t
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fitToWidth(t.columnWidths())
	border := t.style.BorderStyle

	var b strings.Builder
	if border.Horizontal != "" {
		b.WriteString(t.rule(widths, border.TopLeft, border.TopTee, border.TopRight))
	}
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		if t.style.HeaderSeparator && border.Horizontal != "" {
			b.WriteString(t.rule(widths, border.LeftTee, border.Cross, border.RightTee))
		}
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	if border.Horizontal != "" {
		b.WriteString(t.rule(widths, border.BottomLeft, border.BottomTee, border.BottomRight))
	}
	return b.String()
}

// RenderTo renders the table to the specified writer
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// columnWidths returns content widths, without padding
func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// fitToWidth shrinks the widest columns until the table fits maxWidth
func (t *Table) fitToWidth(widths []int) []int {
	const minWidth = 4
	for t.totalWidth(widths) > t.maxWidth {
		widest := -1
		for i, w := range widths {
			if w > minWidth && (widest < 0 || w > widths[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + t.style.Padding*2
	}
	if t.style.BorderStyle.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	h := t.style.BorderStyle.Horizontal
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(h, w+t.style.Padding*2))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	v := t.style.BorderStyle.Vertical
	var b strings.Builder
	b.WriteString(v)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(t.formatCell(cell, w, t.alignments[i], header))
		if v != "" || i < len(widths)-1 {
			b.WriteString(v)
		}
	}
	if v == "" {
		return strings.TrimRight(b.String(), " ") + "\n"
	}
	return b.String() + "\n"
}

// formatCell pads before coloring so escape codes never count toward width
func (t *Table) formatCell(content string, width int, alignment Alignment, header bool) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	gap := width - utf8.RuneCountInString(content)
	var left, right int
	switch alignment {
	case AlignCenter:
		left = gap / 2
		right = gap - left
	case AlignRight:
		left = gap
	default:
		right = gap
	}

	if header && t.colors != nil {
		content = t.colors.Colorize(content, t.colors.Theme().Primary)
	}

	pad := t.style.Padding
	return strings.Repeat(" ", left+pad) + content + strings.Repeat(" ", right+pad)
}

// getTerminalWidth returns the current terminal width
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	return width
}
