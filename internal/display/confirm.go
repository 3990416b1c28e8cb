package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	apperrors "migration-guard/internal/errors"
)

// ConfirmationDialog asks a yes/no question before a destructive action
type ConfirmationDialog struct {
	Title         string
	Message       string
	Details       []string
	IsDestructive bool

	printer *Printer
	reader  *bufio.Reader
	// interactive reports whether the input is a terminal
	interactive func() bool
}

// NewConfirmationDialog creates a dialog reading from the configured input
func (p *Printer) NewConfirmationDialog(title, message string) *ConfirmationDialog {
	in := p.config.Reader
	return &ConfirmationDialog{
		Title:       title,
		Message:     message,
		printer:     p,
		reader:      bufio.NewReader(in),
		interactive: func() bool { return isTerminal(in) },
	}
}

// AddDetail appends a line shown under the message
func (cd *ConfirmationDialog) AddDetail(detail string) *ConfirmationDialog {
	cd.Details = append(cd.Details, detail)
	return cd
}

// SetDestructive marks the action as irreversible
func (cd *ConfirmationDialog) SetDestructive(destructive bool) *ConfirmationDialog {
	cd.IsDestructive = destructive
	return cd
}

// Show prints the dialog and reads the answer. With AssumeYes it returns
// true without prompting. Without a terminal it refuses rather than guess.
func (cd *ConfirmationDialog) Show() (bool, error) {
	cfg := cd.printer.config
	if cfg.AssumeYes {
		return true, nil
	}
	if cfg.Structured() || !cd.interactive() {
		return false, apperrors.NewValidationError("confirmation required",
			[]string{"input is not interactive; re-run with --yes to proceed"})
	}

	w := cd.printer.writer
	colors := cd.printer.colors
	theme := colors.Theme()

	fmt.Fprintln(w)
	fmt.Fprintln(w, colors.Colorize(cd.Title, theme.Highlight))
	if cd.Message != "" {
		fmt.Fprintln(w, cd.Message)
	}
	for _, d := range cd.Details {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	if cd.IsDestructive {
		fmt.Fprintln(w, colors.Colorize("This action cannot be undone.", theme.Warning))
	}
	fmt.Fprint(w, "Proceed? [y/N]: ")

	answer, err := cd.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
