package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme provides color functions for different output elements
type ColorScheme struct {
	// Host colors endpoint identities
	Host func(format string, a ...interface{}) string

	// Success colors success status
	Success func(format string, a ...interface{}) string

	// Error colors error messages
	Error func(format string, a ...interface{}) string

	// Progress colors the completion counter
	Progress func(format string, a ...interface{}) string

	// Duration colors duration values
	Duration func(format string, a ...interface{}) string

	// Header colors table headers
	Header func(format string, a ...interface{}) string

	// OutMark is the stdout line marker ("->")
	OutMark string

	// ErrMark is the stderr line marker ("=>")
	ErrMark string

	// Disabled indicates if colors are disabled
	Disabled bool
}

// NewColorScheme creates a new color scheme
// Colors are automatically disabled for non-TTY outputs or when noColor is true
func NewColorScheme(w io.Writer, noColor bool) *ColorScheme {
	// Determine if we should use colors
	useColor := !noColor && isTTY(w)

	if !useColor {
		// Return scheme with no-op color functions
		return &ColorScheme{
			Host:     color.New().Sprintf,
			Success:  color.New().Sprintf,
			Error:    color.New().Sprintf,
			Progress: color.New().Sprintf,
			Duration: color.New().Sprintf,
			Header:   color.New().Sprintf,
			OutMark:  "->",
			ErrMark:  "=>",
			Disabled: true,
		}
	}

	// Return scheme with actual colors
	return &ColorScheme{
		Host:     color.New(color.FgCyan, color.Bold).Sprintf,
		Success:  color.New(color.FgGreen).Sprintf,
		Error:    color.New(color.FgRed, color.Bold).Sprintf,
		Progress: color.New(color.FgCyan).Sprintf,
		Duration: color.New(color.FgBlue).Sprintf,
		Header:   color.New(color.FgWhite, color.Bold).Sprintf,
		OutMark:  color.New(color.FgGreen, color.Bold).Sprint("->"),
		ErrMark:  color.New(color.FgRed, color.Bold).Sprint("=>"),
		Disabled: false,
	}
}

// isTTY checks if the writer is a TTY
func isTTY(w io.Writer) bool {
	// Check if writer is a file
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// StatusColor returns an appropriate color function based on failure status
func (cs *ColorScheme) StatusColor(failed bool) func(format string, a ...interface{}) string {
	if failed {
		return cs.Error
	}
	return cs.Success
}
