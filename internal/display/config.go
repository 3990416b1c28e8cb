package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "migration-guard/internal/errors"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
)

// DisplayConfig holds configuration for visual display options
type DisplayConfig struct {
	ColorEnabled  bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme         string `mapstructure:"theme" yaml:"theme"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	TableStyle    string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth int    `mapstructure:"max_table_width" yaml:"max_table_width"`

	// QuietMode drops informational lines; results are still printed
	QuietMode bool `mapstructure:"quiet" yaml:"quiet"`
	// AssumeYes answers every confirmation prompt with yes
	AssumeYes bool `mapstructure:"assume_yes" yaml:"assume_yes"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
	Reader io.Reader `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	cfg := &DisplayConfig{ColorEnabled: true}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for unspecified configuration options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.TableStyle == "" {
		dc.TableStyle = DefaultTableStyle.Name
	}
	if dc.MaxTableWidth == 0 {
		dc.MaxTableWidth = 160
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
	if dc.Reader == nil {
		dc.Reader = os.Stdin
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var failures []string

	validThemes := []string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast)}
	if !contains(validThemes, dc.Theme) {
		failures = append(failures, fmt.Sprintf("invalid theme '%s', must be one of: %s", dc.Theme, strings.Join(validThemes, ", ")))
	}

	validFormats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
	if !contains(validFormats, dc.OutputFormat) {
		failures = append(failures, fmt.Sprintf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(validFormats, ", ")))
	}

	if _, ok := TableStyleByName(dc.TableStyle); !ok {
		failures = append(failures, fmt.Sprintf("invalid table style '%s', must be one of: %s", dc.TableStyle, strings.Join(tableStyleNames(), ", ")))
	}

	if dc.MaxTableWidth < 40 || dc.MaxTableWidth > 300 {
		failures = append(failures, fmt.Sprintf("max table width must be between 40 and 300, got %d", dc.MaxTableWidth))
	}

	if len(failures) > 0 {
		return apperrors.NewValidationError("display configuration is invalid", failures)
	}
	return nil
}

// Format returns the configured output format
func (dc *DisplayConfig) Format() OutputFormat {
	return OutputFormat(dc.OutputFormat)
}

// Structured reports whether output is machine readable
func (dc *DisplayConfig) Structured() bool {
	return dc.Format() == FormatJSON || dc.Format() == FormatYAML
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
