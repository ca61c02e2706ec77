// Package output provides terminal output formatting utilities for the
// specwright companion CLI (cmd/specwrightd). This package is designed to
// have minimal dependencies to avoid import cycles.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// GetTerminalWidth returns the terminal width, defaulting to 80 if unavailable.
func GetTerminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// PrintEventSeparator prints a colored separator, used between a streamed
// batch of chunk/worker events and the final summary line.
func PrintEventSeparator(out io.Writer) {
	termWidth := GetTerminalWidth()
	magenta := color.New(color.FgMagenta, color.Faint).SprintFunc()

	label := " specwrightd "
	lineLen := (termWidth - len(label)) / 2
	if lineLen < 3 {
		lineLen = 3
	}

	line := strings.Repeat("─", lineLen)
	fmt.Fprintf(out, "\n%s%s%s\n", magenta(line), magenta(label), magenta(line))
}

// PrintWorkerHeader prints a colored header identifying which Worker/Spec a
// block of streamed output belongs to (e.g. "[Worker 2/5] add-widgets...").
func PrintWorkerHeader(out io.Writer, workerNum, totalWorkers int, specTitle string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	white := color.New(color.FgWhite, color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s %s\n", cyan(fmt.Sprintf("[Worker %d/%d]", workerNum, totalWorkers)), white(specTitle+"..."))
}

// PrintSuccess prints a colored success message, e.g. a completed worker or
// a PR opened for a finished Spec.
func PrintSuccess(out io.Writer, message string) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "%s %s\n\n", green("✓"), cyan(message))
}

// PrintFailure prints a colored failure message, e.g. a chunk that failed
// review or an executor that could not be reached.
func PrintFailure(out io.Writer, message string) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s %s\n\n", red("✗"), message)
}

// PrintCommand prints the command about to run (e.g. the reviewer template
// about to be invoked) with colored styling.
func PrintCommand(out io.Writer, command string) {
	magenta := color.New(color.FgMagenta).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	fmt.Fprintf(out, "\n%s %s\n\n", magenta("→ Running:"), dim(command))
}
