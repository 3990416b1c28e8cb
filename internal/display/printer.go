package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Printer writes status lines, tables and documents in the configured format.
// In json and yaml mode only Emit produces output so stdout stays parseable.
type Printer struct {
	config *DisplayConfig
	colors ColorSystem
	style  TableStyle
	writer io.Writer
}

// NewPrinter creates a printer. A nil config uses the defaults.
func NewPrinter(config *DisplayConfig) *Printer {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	style, ok := TableStyleByName(config.TableStyle)
	if !ok {
		style = DefaultTableStyle
	}
	return &Printer{
		config: config,
		colors: NewColorSystem(GetThemeByName(config.Theme), config.Writer, config.ColorEnabled),
		style:  style,
		writer: config.Writer,
	}
}

// Config returns the display configuration
func (p *Printer) Config() *DisplayConfig {
	return p.config
}

// Writer returns the output writer
func (p *Printer) Writer() io.Writer {
	return p.writer
}

// Colors returns the color system
func (p *Printer) Colors() ColorSystem {
	return p.colors
}

// Header prints a title framed by rules
func (p *Printer) Header(title string) {
	if p.config.Structured() || p.config.QuietMode {
		return
	}
	separator := strings.Repeat("=", len(title)+4)
	text := fmt.Sprintf("\n%s\n  %s  \n%s\n", separator, title, separator)
	fmt.Fprint(p.writer, p.colors.Colorize(text, p.colors.Theme().Primary))
}

// Section prints a sub-heading
func (p *Printer) Section(title string) {
	if p.config.Structured() {
		return
	}
	fmt.Fprint(p.writer, p.colors.Colorize(fmt.Sprintf("\n--- %s ---\n", title), p.colors.Theme().Highlight))
}

// Success prints a success message
func (p *Printer) Success(message string) {
	p.status("SUCCESS", message, p.colors.Theme().Success)
}

// Warning prints a warning message
func (p *Printer) Warning(message string) {
	p.status("WARNING", message, p.colors.Theme().Warning)
}

// Error prints an error message
func (p *Printer) Error(message string) {
	p.status("ERROR", message, p.colors.Theme().Error)
}

// Info prints an info message; suppressed in quiet mode
func (p *Printer) Info(message string) {
	if p.config.QuietMode {
		return
	}
	p.status("INFO", message, p.colors.Theme().Info)
}

func (p *Printer) status(level, message string, clr Color) {
	if p.config.Structured() {
		return
	}
	prefix := p.colors.Colorize(fmt.Sprintf("[%s]", level), clr)
	fmt.Fprintf(p.writer, "%s %s\n", prefix, message)
}

// KeyValues prints aligned "key: value" pairs in order
func (p *Printer) KeyValues(pairs [][2]string) {
	if p.config.Structured() {
		return
	}
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		key := fmt.Sprintf("%-*s", width+1, kv[0]+":")
		fmt.Fprintf(p.writer, "  %s %s\n", p.colors.Colorize(key, p.colors.Theme().Muted), kv[1])
	}
}

// List prints one bullet per item
func (p *Printer) List(items []string) {
	if p.config.Structured() {
		return
	}
	for _, item := range items {
		fmt.Fprintf(p.writer, "  - %s\n", item)
	}
}

// NewTable returns an empty table using the configured style and width
func (p *Printer) NewTable(headers ...string) *Table {
	return NewTable(p.colors, p.style, p.config.MaxTableWidth).SetHeaders(headers...)
}

// Table renders t unless output is structured
func (p *Printer) Table(t *Table) {
	if p.config.Structured() {
		return
	}
	t.RenderTo(p.writer)
}

// Emit writes v as a JSON or YAML document. In table mode it does nothing
// and returns false so callers render the human view instead.
func (p *Printer) Emit(v interface{}) (bool, error) {
	switch p.config.Format() {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(p.writer, string(data))
		return true, err
	case FormatYAML:
		// round-trip through JSON so the json tags name the YAML keys
		data, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to format YAML: %w", err)
		}
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return true, fmt.Errorf("failed to format YAML: %w", err)
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return true, fmt.Errorf("failed to format YAML: %w", err)
		}
		_, err = p.writer.Write(out)
		return true, err
	default:
		return false, nil
	}
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
