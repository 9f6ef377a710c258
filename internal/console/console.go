// Package console prints colored status lines and asks for confirmation
// on interactive terminals.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	colorSuccess = color.New(color.FgGreen, color.Bold)
	colorError   = color.New(color.FgRed, color.Bold)
	colorWarning = color.New(color.FgYellow, color.Bold)
	colorInfo    = color.New(color.FgCyan)
	colorStep    = color.New(color.FgMagenta, color.Bold)
)

const separator = "────────────────────────────────────────────────────────"

// Console writes to Out and Err and reads answers from In
type Console struct {
	Out io.Writer
	Err io.Writer
	In  io.Reader
	// Interactive is true when In is a terminal
	Interactive bool
}

// New returns a console on the process's standard streams
func New() *Console {
	return &Console{
		Out:         os.Stdout,
		Err:         os.Stderr,
		In:          os.Stdin,
		Interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

func (c *Console) Success(format string, args ...interface{}) {
	colorSuccess.Fprint(c.Out, "✓ ")
	fmt.Fprintf(c.Out, format+"\n", args...)
}

func (c *Console) Error(format string, args ...interface{}) {
	colorError.Fprint(c.Err, "✗ ")
	fmt.Fprintf(c.Err, format+"\n", args...)
}

func (c *Console) Warning(format string, args ...interface{}) {
	colorWarning.Fprint(c.Out, "⚠ ")
	fmt.Fprintf(c.Out, format+"\n", args...)
}

func (c *Console) Info(format string, args ...interface{}) {
	colorInfo.Fprint(c.Out, "ℹ ")
	fmt.Fprintf(c.Out, format+"\n", args...)
}

// Step prints a section header
func (c *Console) Step(format string, args ...interface{}) {
	fmt.Fprintln(c.Out)
	colorStep.Fprintf(c.Out, "▶ "+format+"\n", args...)
	fmt.Fprintln(c.Out, separator)
}

// Confirm asks a yes/no question. Without a terminal nobody can answer,
// so it returns false without reading.
func (c *Console) Confirm(question string) bool {
	if !c.Interactive {
		return false
	}
	reader := bufio.NewReader(c.In)
	for {
		fmt.Fprintf(c.Out, "%s (y/n): ", question)
		input, err := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(input))
		switch answer {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return false
		}
		fmt.Fprintln(c.Out, "Please answer 'y' or 'n'.")
	}
}

// FormatBytes renders a byte count with binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 5; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
