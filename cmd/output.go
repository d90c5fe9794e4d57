package cmd

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
)

// statusLineFormat truncates and pads status lines to a fixed width so that
// every print fully overwrites the previous one. Windows consoles need one
// column of slack for carriage return wipes to work.
var statusLineFormat = "\r%-80.80s"

func init() {
	if runtime.GOOS == "windows" {
		statusLineFormat = "\r%-79.79s"
	}
}

// StatusLinePrinter provides printing facilities for dynamically updating
// status lines in the console. It supports colorized printing.
type StatusLinePrinter struct {
	// UseStandardError causes the printer to use standard error for its output
	// instead of standard output (the default).
	UseStandardError bool
	// nonEmpty indicates whether or not the printer has printed any non-empty
	// content to the status line.
	nonEmpty bool
}

// Print prints a message to the status line, overwriting any existing
// content. Color escape sequences are supported.
func (p *StatusLinePrinter) Print(message string) {
	output := color.Output
	if p.UseStandardError {
		output = color.Error
	}
	fmt.Fprintf(output, statusLineFormat, message)
	p.nonEmpty = true
}

// BreakIfNonEmpty prints a newline character if the current line is
// non-empty.
func (p *StatusLinePrinter) BreakIfNonEmpty() {
	if !p.nonEmpty {
		return
	}
	output := color.Output
	if p.UseStandardError {
		output = color.Error
	}
	fmt.Fprintln(output)
	p.nonEmpty = false
}
